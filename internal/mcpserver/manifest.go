package mcpserver

import "encoding/json"

const (
	manifestSchema = "https://static.modelcontextprotocol.io/schemas/2025-10-17/server.schema.json"
	serverName     = "io.github.driftline/vestige"
	serverImage    = "ghcr.io/driftline/vestige"
	serverRepo     = "https://github.com/driftline/vestige"
)

// Manifest is the server.json registry document, schema 2025-10-17.
type Manifest struct {
	Schema      string      `json:"$schema"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Version     string      `json:"version"`
	Repository  *Repository `json:"repository,omitempty"`
	Packages    []Package   `json:"packages,omitempty"`
}

// Repository points registries at the source tree.
type Repository struct {
	URL    string `json:"url"`
	Source string `json:"source"`
	ID     string `json:"id,omitempty"`
}

// Package tells a client how to obtain and launch the server.
type Package struct {
	RegistryType     string       `json:"registryType"`
	Identifier       string       `json:"identifier"`
	PackageArguments []PackageArg `json:"packageArguments,omitempty"`
	Transport        Transport    `json:"transport"`
}

// PackageArg is one argument passed to the launched binary.
type PackageArg struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

// Transport names the wire protocol the server speaks.
type Transport struct {
	Type string `json:"type"`
}

// GenerateManifest renders the registry manifest for the given release
// version. An empty version means an untagged build and maps to 0.0.0.
func GenerateManifest(version string) ([]byte, error) {
	if version == "" {
		version = "0.0.0"
	}

	m := Manifest{
		Schema:      manifestSchema,
		Name:        serverName,
		Description: "Dead code detection for Python with reference resolution, framework suppression rules, and liveness justifications",
		Version:     version,
		Repository: &Repository{
			URL:    serverRepo,
			Source: "github",
		},
	}
	m.Packages = append(m.Packages, Package{
		RegistryType:     "oci",
		Identifier:       serverImage + ":" + version,
		PackageArguments: []PackageArg{{Type: "positional", Value: "mcp"}},
		Transport:        Transport{Type: "stdio"},
	})

	return json.MarshalIndent(m, "", "  ")
}

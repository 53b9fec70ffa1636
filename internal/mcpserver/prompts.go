package mcpserver

import (
	"context"
	"embed"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"
)

//go:embed prompts/*.md
var promptFiles embed.FS

const frontmatterFence = "---\n"

// registerPrompts loads every embedded prompts/*.md file and registers it
// under its file stem. A file that fails to read is skipped rather than
// failing server startup.
func (s *Server) registerPrompts() {
	entries, err := promptFiles.ReadDir("prompts")
	if err != nil {
		return
	}

	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".md")
		if !ok || entry.IsDir() {
			continue
		}

		raw, err := promptFiles.ReadFile("prompts/" + entry.Name())
		if err != nil {
			continue
		}
		description, body := parseFrontmatter(raw)

		s.server.AddPrompt(
			&mcp.Prompt{Name: name, Description: description},
			promptHandler(description, body),
		)
	}
}

// parseFrontmatter splits a prompt file into its frontmatter description and
// markdown body. Files without a well-formed frontmatter block come back
// whole, with an empty description.
func parseFrontmatter(content []byte) (description, body string) {
	text := string(content)

	after, ok := strings.CutPrefix(text, frontmatterFence)
	if !ok {
		return "", text
	}
	meta, rest, ok := strings.Cut(after, "\n"+frontmatterFence)
	if !ok {
		return "", text
	}

	var header struct {
		Description string `yaml:"description"`
	}
	if err := yaml.Unmarshal([]byte(meta), &header); err != nil {
		return "", text
	}
	return header.Description, strings.TrimPrefix(rest, "\n")
}

// promptHandler serves a static prompt as a single user message.
func promptHandler(description, body string) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Description: description,
			Messages: []*mcp.PromptMessage{
				{Role: "user", Content: &mcp.TextContent{Text: body}},
			},
		}, nil
	}
}

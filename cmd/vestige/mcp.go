package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/driftline/vestige/internal/mcpserver"
)

func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Start MCP (Model Context Protocol) server for LLM tool integration",
		Description: `Starts an MCP server over stdio transport that exposes the analysis
engine as tools LLMs can invoke. This lets AI assistants find dead code,
explain individual verdicts, and inspect the reference graph.

To use with Claude Desktop, add to your config:
  {
    "mcpServers": {
      "vestige": {
        "command": "vestige",
        "args": ["mcp"]
      }
    }
  }

Available tools:
  - analyze_deadcode   Dead symbol report with justifications
  - explain_symbol     Liveness verdict and evidence for one symbol
  - graph_stats        Reference graph metrics and hot symbols`,
		Subcommands: []*cli.Command{
			{
				Name:   "manifest",
				Usage:  "Print the MCP registry manifest (server.json)",
				Action: runMCPManifestCmd,
			},
		},
		Action: runMCPCmd,
	}
}

func runMCPCmd(c *cli.Context) error {
	server := mcpserver.NewServer(version)
	return server.Run(c.Context)
}

func runMCPManifestCmd(c *cli.Context) error {
	data, err := mcpserver.GenerateManifest(version)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

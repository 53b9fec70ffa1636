package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/pelletier/go-toml"
	"github.com/urfave/cli/v2"
)

func configCmd() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show the effective configuration",
		Description: `Shows the merged configuration from defaults and any config file, as
TOML. Point the global --config flag at a file to inspect it.

Examples:
  vestige config                      # Show effective config
  vestige -c vestige.toml config      # Show config from a specific file`,
		Action: runConfigCmd,
	}
}

func runConfigCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		color.Red("Configuration invalid:")
		fmt.Printf("  - %s\n", err)
		return err
	}

	if path := c.String("config"); path != "" {
		fmt.Printf("# Configuration from: %s\n\n", path)
	} else {
		fmt.Println("# Effective configuration")
		fmt.Println()
	}

	content, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Print(string(content))
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mcpharvest/internal/aiconnectors"
	"github.com/mcpharvest/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "mcpharvest.toml",
					},
					&cli.StringFlag{
						Name:  "prompts-dir",
						Usage: "Write the default prompt templates into `DIR` (empty to skip)",
						Value: "prompts",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: runConfigValidate,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath, c.String("prompts-dir")); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	result := CheckRequiredConfig(cfg)
	PrintConfigCheck(result)

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if aiconnectors.Provider(strings.ToLower(cfg.LLM.Provider)) == aiconnectors.ProviderOllama {
		model := cfg.LLM.Model
		if model == "" {
			model = aiconnectors.DefaultModel(aiconnectors.ProviderOllama)
		}
		ctx, cancel := context.WithTimeout(c.Context, 15*time.Second)
		defer cancel()
		if err := aiconnectors.CheckOllamaModel(ctx, cfg.LLM.BaseURL, cfg.LLM.APIKey, model); err != nil {
			return fmt.Errorf("ollama check failed: %w", err)
		}
	}

	fmt.Println("Configuration is valid")
	return nil
}

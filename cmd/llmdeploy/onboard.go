package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/radutopala/llmdeploy/internal/config"
	containerimage "github.com/radutopala/llmdeploy/internal/container/image"
)

func newOnboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "onboard",
		Aliases: []string{"o", "setup"},
		Short:   "Initialize llmdeploy configuration at ~/.llmdeploy/",
		Long:    "Copies config.example.json to ~/.llmdeploy/config.json and writes the container Dockerfile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return onboard(force)
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite existing config")
	return cmd
}

func onboard(force bool) error {
	home, err := userHomeDir()
	if err != nil {
		return fmt.Errorf("getting home directory: %w", err)
	}

	homeDir := filepath.Join(home, ".llmdeploy")
	configPath := filepath.Join(homeDir, "config.json")

	if _, err := osStat(configPath); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}

	if err := osMkdirAll(homeDir, 0700); err != nil {
		return fmt.Errorf("creating llmdeploy directory: %w", err)
	}
	// Holds tokens, so owner-only.
	if err := osWriteFile(configPath, config.ExampleConfig, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	containerDir := filepath.Join(homeDir, "container")
	if err := osMkdirAll(containerDir, 0755); err != nil {
		return fmt.Errorf("creating container directory: %w", err)
	}
	if err := osWriteFile(filepath.Join(containerDir, "Dockerfile"), containerimage.Dockerfile, 0644); err != nil {
		return fmt.Errorf("writing container Dockerfile: %w", err)
	}

	fmt.Printf("✓ Created config at %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Edit config.json and set github_token, github_owner and student_secret")
	fmt.Println("2. Optionally set openai_api_key to generate pages with an LLM")
	fmt.Println("3. Run 'llmdeploy serve', or 'llmdeploy image:build' then 'llmdeploy image:run'")
	return nil
}

package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/radutopala/llmdeploy/internal/config"
	"github.com/radutopala/llmdeploy/internal/db"
	"github.com/radutopala/llmdeploy/internal/readme"
)

func init() {
	cobra.EnablePrefixMatching = true
	version = resolveVersion(version)
}

// resolveVersion uses debug.ReadBuildInfo to replace "dev" with the actual
// module version when installed via `go install`.
var resolveVersion = func(v string) string {
	if v != "dev" {
		return v
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return v
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var osExit = os.Exit

func main() {
	if err := newRootCmd().Execute(); err != nil {
		osExit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "llmdeploy",
		Short:        "Publish LLM-generated pages to GitHub on request",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newOnboardCmd())
	root.AddCommand(newConfigSchemaCmd())
	root.AddCommand(newDockerfileCmd())
	root.AddCommand(newImageBuildCmd())
	root.AddCommand(newImageRunCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newReadmeCmd())
	root.SetHelpTemplate(helpTemplate)
	return root
}

const helpTemplate = `llmdeploy - Build task pages with an LLM and publish them to GitHub Pages

Usage:
  llmdeploy [command]

Available Commands:
  serve                    Start the HTTP service (alias: s)
    --addr                 Listen address [default: api_addr from config]
  onboard                  Initialize config at ~/.llmdeploy/ (aliases: o, setup)
    --force                Overwrite existing config
  config:schema            Print the JSON schema of config.json
  dockerfile               Print the embedded Dockerfile
  image:build              Build the service image (alias: i:build)
    --context              Build context, a checkout of this module [default: .]
    --tag                  Image tag [default: container_image from config]
  image:run                Run the service image (alias: i:run)
    --data-dir             Host directory mounted at the service home [default: none]
  version                  Print version information (alias: v)
  readme                   Print the README documentation (alias: r)

Use "llmdeploy [command] --help" for more information about a command.
`

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("llmdeploy %s\n", version)
			if commit != "none" {
				fmt.Printf("  commit: %s\n", commit)
			}
			if date != "unknown" {
				fmt.Printf("  built:  %s\n", date)
			}
		},
	}
}

func newReadmeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "readme",
		Aliases: []string{"r"},
		Short:   "Print the README documentation",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Print(readme.Content)
		},
	}
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config:schema",
		Short: "Print the JSON schema of config.json",
		RunE: func(_ *cobra.Command, _ []string) error {
			schema, err := configSchema()
			if err != nil {
				return fmt.Errorf("generating schema: %w", err)
			}
			fmt.Println(string(schema))
			return nil
		},
	}
}

// --- Shared testable vars ---

var (
	userHomeDir = os.UserHomeDir
	osStat      = os.Stat
	osMkdirAll  = os.MkdirAll
	osWriteFile = os.WriteFile
	osMkdirTemp = os.MkdirTemp
	osRemoveAll = os.RemoveAll
)

var (
	configLoad     = config.Load
	configSchema   = config.Schema
	newSQLiteStore = func(path string) (db.Store, error) {
		return db.NewSQLiteStore(path)
	}
)

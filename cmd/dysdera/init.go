package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nao1215/dysdera/internal/config"
	"github.com/spf13/cobra"
)

//go:embed templates/dysdera.yaml
var configTemplate embed.FS

// configFileName is the default configuration file name.
const configFileName = config.DefaultConfigFile

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new dysdera configuration file",
		Long: `Initialize writes a commented .dysdera configuration file.

The file lists every crawl setting with its default value, followed by
examples of per-site cookies, headers, delays and URL patterns.

Examples:
  # Create .dysdera in the current directory
  dysdera init

  # Create the per-user file in the XDG config directory
  dysdera init --global

  # Create config file at a specific path, replacing an existing one
  dysdera init -o myconfig.yaml -f`,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", configFileName,
		"Output file path for the configuration")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing configuration file")
	cmd.Flags().BoolP("global", "g", false,
		"Write the per-user configuration file instead (ignores --output)")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}
	global, err := cmd.Flags().GetBool("global")
	if err != nil {
		return err
	}
	if global {
		outputPath = config.GlobalConfigFile()
	}

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	content, err := configTemplate.ReadFile("templates/dysdera.yaml")
	if err != nil {
		return fmt.Errorf("failed to read config template: %w", err)
	}

	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// The file may hold cookies and authorization headers.
	if err := os.WriteFile(outputPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created configuration file: %s\n", outputPath)
	fmt.Fprintln(out, "\nEdit the crawl section to change defaults, and the sites section for")
	fmt.Fprintln(out, "per-host cookies, headers, delays and URL patterns.")
	return nil
}

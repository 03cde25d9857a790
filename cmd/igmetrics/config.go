package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"igmetrics/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage igmetrics configuration",
	Long: `Manage the configuration file.

The effective configuration is layered: defaults, then the YAML file,
then environment variables (IGMETRICS_*), then command-line flags.`,
}

// configInitCmd writes a default config file
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default configuration file",
	Example: `  # Write $HOME/.igmetrics.yaml
  igmetrics config init

  # Write to an explicit path
  igmetrics config init --config ./igmetrics.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("resolving home directory: %w", err)
			}
			path = filepath.Join(home, ".igmetrics.yaml")
		}

		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s", path)
		}

		cfg := config.DefaultConfig()
		if err := cfg.Save(path); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Fprintf(os.Stderr, "Wrote default configuration to %s\n", path)
		return nil
	},
}

// configValidateCmd checks the effective configuration
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile, nil)
		if err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}
		fmt.Fprintln(os.Stderr, "Configuration is valid")
		return nil
	},
}

// configShowCmd prints the effective configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile, nil)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		// Secrets stay out of the printout.
		redacted := *cfg
		if redacted.Token.Secret != "" {
			redacted.Token.Secret = "<redacted>"
		}
		if redacted.Graph.AppSecret != "" {
			redacted.Graph.AppSecret = "<redacted>"
		}

		out, err := yaml.Marshal(&redacted)
		if err != nil {
			return fmt.Errorf("encoding configuration: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"igmutual/pkg/config"
	"igmutual/pkg/instagram"
	"igmutual/pkg/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage igmutual configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (IGMUTUAL_*, including .env files)
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Long: `Write a configuration file holding every option at its default value.

The file is created as '.igmutual.yaml' in the current directory unless a
different path is given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Show the configuration after merging every source. Secrets are masked.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = ".igmutual.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Store the platform login with 'igmutual admin credentials'")
	fmt.Println("2. Run 'igmutual config validate' to check the configuration")
	fmt.Println("3. Start the engine with 'igmutual serve'")
	return nil
}

// masked returns a copy of c with secrets replaced by previews
func masked(c *config.Config) config.Config {
	display := *c
	if display.Session.Token != "" {
		display.Session.Token = instagram.MaskToken(display.Session.Token)
	}
	if display.Cache.Password != "" {
		display.Cache.Password = "***"
	}
	if display.API.AdminToken != "" {
		display.API.AdminToken = "***"
	}
	return display
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	display := masked(cfg)
	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (IGMUTUAL_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (searched default locations)")
	}
	fmt.Println("4. Default values")
	return nil
}

// Validation itself happens in the root pre-run; reaching here means the
// merged configuration loaded.
func runConfigValidate(cmd *cobra.Command, args []string) error {
	var warnings []string

	if cfg.API.AdminToken == "" {
		warnings = append(warnings, "admin_token is empty; admin endpoints are unauthenticated")
	}
	if cfg.Queue.MaxConcurrent > 3 {
		warnings = append(warnings, fmt.Sprintf("max_concurrent is %d; every check shares one session and request budget", cfg.Queue.MaxConcurrent))
	}
	if cfg.Storage.DatabasePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0755); err != nil {
			return fmt.Errorf("cannot create database directory: %w", err)
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			return fmt.Errorf("cannot create log directory: %w", err)
		}
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Database: %s\n", cfg.Storage.DatabasePath)
	fmt.Printf("  Max concurrent checks: %d\n", cfg.Queue.MaxConcurrent)
	fmt.Printf("  Rate limit: %d requests/minute\n", cfg.RateLimit.RequestsPerMinute)
	fmt.Printf("  Freshness window: %s\n", cfg.Check.FreshnessWindow)
	fmt.Printf("  Result cache: %t\n", cfg.Cache.Enabled)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}

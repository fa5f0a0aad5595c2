package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"igmutual/pkg/config"
	"igmutual/pkg/logger"
	"igmutual/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile   string
	logLevel     string
	databasePath string
	quiet        bool

	cfg *config.Config
)

// commands that work without a loaded configuration
var skipConfig = map[string]bool{
	"help":    true,
	"version": true,
	"init":    true,
}

var rootCmd = &cobra.Command{
	Use:   "igmutual",
	Short: "Find the accounts an Instagram profile follows that do not follow back",
	Long: `igmutual checks an Instagram profile and lists the accounts it follows
that do not follow it back.

Checks are queued and processed one at a time by default against a single
platform session. Progress is checkpointed so interrupted checks resume
where they stopped, and recent results are reused instead of scraping again.

Run 'igmutual serve' to process the queue and expose the HTTP API, or use
'igmutual check add <target> --run' for a one-off check.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if quiet || logLevel == "error" {
			ui.SetQuietMode(true)
		}
		if skipConfig[cmd.Name()] {
			return nil
		}

		flags := map[string]interface{}{
			"log-level": logLevel,
			"database":  databasePath,
		}
		if cmd.Flags().Changed("listen") {
			flags["listen"], _ = cmd.Flags().GetString("listen")
		}
		if cmd.Flags().Changed("concurrency") {
			flags["concurrency"], _ = cmd.Flags().GetInt("concurrency")
		}
		if cmd.Flags().Changed("redis") {
			flags["redis"], _ = cmd.Flags().GetString("redis")
		}

		loaded, err := config.Load(configFile, flags)
		if err != nil {
			return err
		}
		cfg = loaded

		if err := logger.Initialize(&cfg.Logging); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.igmutual.yaml or ~/.config/igmutual/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&databasePath, "database", "", "path of the sqlite state database")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")

	rootCmd.SetVersionTemplate(`igmutual {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

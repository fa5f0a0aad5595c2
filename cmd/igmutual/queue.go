package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"igmutual/pkg/ui"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show queue depth and the wait estimate for a new check",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			stats, err := a.engine.QueueStats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(ui.Out, ui.RenderQueue(stats))
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "igmutual %s\nGo Version: %s\nOS/Arch: %s/%s\n",
			rootCmd.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(versionCmd)
}

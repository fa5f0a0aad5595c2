package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"igmutual/pkg/engine"
	"igmutual/pkg/models"
	"igmutual/pkg/notify"
	"igmutual/pkg/ui"
	"igmutual/pkg/ui/tui"
)

var (
	checkPlatform string
	checkRun      bool
	checkNoTUI    bool
	resultsJSON   bool
	watchInterval time.Duration
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Queue and inspect non-mutual checks",
	Long: `Queue checks and inspect their progress and results.

A check lists the accounts the target follows that do not follow it back.
Checks queued here are processed by 'igmutual serve' sharing the same
database, or in this process with --run.`,
}

var checkAddCmd = &cobra.Command{
	Use:   "add <target>",
	Short: "Queue a check for a profile",
	Long: `Queue a check for a profile. The target may be a handle, @handle or a
profile URL.`,
	Example: `  # Queue for a running server
  igmutual check add natgeo

  # Process it here and watch progress
  igmutual check add https://instagram.com/natgeo/ --run`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckAdd,
}

var checkStatusCmd = &cobra.Command{
	Use:   "status <check-id>",
	Short: "Show the state of a check",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckStatus,
}

var checkResultsCmd = &cobra.Command{
	Use:   "results <check-id>",
	Short: "List the non-mutual accounts of a completed check",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckResults,
}

var checkCancelCmd = &cobra.Command{
	Use:   "cancel <check-id>",
	Short: "Cancel a queued or running check",
	Long: `Cancel a check. A queued check fails at once; a running check stops at
its next page boundary and keeps its checkpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckCancel,
}

var checkWatchCmd = &cobra.Command{
	Use:   "watch <check-id>...",
	Short: "Watch checks, the queue and the session live",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheckWatch,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.AddCommand(checkAddCmd)
	checkCmd.AddCommand(checkStatusCmd)
	checkCmd.AddCommand(checkResultsCmd)
	checkCmd.AddCommand(checkCancelCmd)
	checkCmd.AddCommand(checkWatchCmd)

	checkAddCmd.Flags().StringVar(&checkPlatform, "platform", models.PlatformInstagram, "platform of the target")
	checkAddCmd.Flags().BoolVar(&checkRun, "run", false, "process the queue in this process until the check finishes")
	checkAddCmd.Flags().BoolVar(&checkNoTUI, "no-tui", false, "print plain progress instead of the live view")
	checkResultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "print results as JSON")
	checkWatchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "poll interval")
}

func runCheckAdd(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(a *app) error {
		var finished chan notify.CompletionEvent
		if checkRun {
			finished = make(chan notify.CompletionEvent, 1)
		}

		id, position, err := a.engine.EnqueueCheck(ctx, args[0], checkPlatform)
		if err != nil {
			return err
		}
		ui.PrintSuccess("Check queued")
		ui.PrintInfo("Check ID", id)
		ui.PrintInfo("Queue position", fmt.Sprintf("%d", position))

		if !checkRun {
			if st, err := a.engine.GetCheckStatus(ctx, id); err == nil && st.EstimatedWait > 0 {
				ui.PrintInfo("Estimated wait", ui.FormatDuration(st.EstimatedWait))
			}
			return nil
		}

		forward := func(event notify.CompletionEvent) {
			if event.CheckID == id {
				select {
				case finished <- event:
				default:
				}
			}
		}
		a.engine.OnCheckCompleted(forward)
		a.engine.OnCheckFailed(forward)

		if err := a.engine.Start(ctx); err != nil {
			return err
		}
		defer a.engine.Stop()

		if !checkNoTUI && term.IsTerminal(int(os.Stdout.Fd())) && !quiet {
			if _, err := tui.Run(ctx, a.engine, []string{id}, tui.Options{
				Interval:     time.Second,
				ExitWhenDone: true,
				AltScreen:    false,
			}); watchFailed(err) {
				return err
			}
		} else {
			select {
			case <-finished:
			case <-ctx.Done():
			}
		}

		if ctx.Err() != nil {
			ui.PrintWarning("Interrupted", "the check resumes from its checkpoint on the next run")
			return nil
		}
		return printOutcome(ctx, a.engine, id)
	})
}

// printOutcome prints the final status and, for completed checks, the results
func printOutcome(ctx context.Context, eng *engine.Engine, id string) error {
	st, err := eng.GetCheckStatus(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprint(ui.Out, ui.RenderStatus(st))
	if st.Status != models.CheckCompleted {
		return nil
	}
	results, err := eng.GetResults(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprint(ui.Out, ui.RenderResults(results))
	return nil
}

func runCheckStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		st, err := a.engine.GetCheckStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(ui.Out, ui.RenderStatus(st))
		return nil
	})
}

func runCheckResults(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		results, err := a.engine.GetResults(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if resultsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		fmt.Fprint(ui.Out, ui.RenderResults(results))
		return nil
	})
}

func runCheckCancel(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		if err := a.engine.Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		ui.PrintSuccess("Cancellation requested: " + args[0])
		return nil
	})
}

func runCheckWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(a *app) error {
		_, err := tui.Run(ctx, a.engine, args, tui.Options{
			Interval:  watchInterval,
			AltScreen: true,
		})
		if watchFailed(err) {
			return err
		}
		return nil
	})
}

// watchFailed reports whether the live view ended for a reason other than
// the command being interrupted
func watchFailed(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, tea.ErrProgramKilled)
}

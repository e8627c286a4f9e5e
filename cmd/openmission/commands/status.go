package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openmission/openmission/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	var (
		limit      int
		showEvents bool
	)

	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show archived mission runs",
		Long: `Show archived mission runs from the run archive.

Without arguments, lists recent runs newest first. With a run ID,
shows the run's thread results and optionally its event history.`,
		Example: `  # List recent runs
  openmission status

  # Show one run with its events
  openmission status 2f1c... --events`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openArchive(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 0 {
				return listRuns(cmd, store, limit)
			}
			return showRun(cmd, store, args[0], showEvents)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	cmd.Flags().BoolVar(&showEvents, "events", false, "include the run's event history")

	return cmd
}

func listRuns(cmd *cobra.Command, store stores.Store, limit int) error {
	runs, err := store.ListRuns(cmd.Context(), limit, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("no archived runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tMISSION\tSTATUS\tSTARTED\tCOMPLETED")
	for _, run := range runs {
		completed := "-"
		if run.CompletedAt != nil {
			completed = run.CompletedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s@%s\t%s\t%s\t%s\n",
			run.ID, run.MissionName, run.MissionVersion, run.Status,
			run.StartedAt.Format("2006-01-02 15:04:05"), completed)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, store stores.Store, runID string, showEvents bool) error {
	ctx := cmd.Context()

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	results, err := store.ListThreadResults(ctx, runID)
	if err != nil {
		return err
	}

	var events []*stores.Event
	if showEvents {
		events, err = store.GetEvents(ctx, &runID, nil, nil, 200, 0)
		if err != nil {
			return err
		}
	}

	if jsonOutput {
		report := map[string]interface{}{
			"run":     run,
			"threads": results,
		}
		if showEvents {
			report["events"] = events
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("run %s\n", run.ID)
	fmt.Printf("  mission:  %s@%s (platform %s)\n", run.MissionName, run.MissionVersion, run.PlatformID)
	fmt.Printf("  status:   %s\n", run.Status)
	fmt.Printf("  started:  %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		fmt.Printf("  completed: %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if run.Error != nil {
		fmt.Printf("  error:    %s\n", *run.Error)
	}

	if len(results) > 0 {
		fmt.Println("threads:")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  THREAD\tSTATE\tITERATIONS\tSKIPPED\tRETRIES\tLAST ERROR")
		for _, result := range results {
			lastError := "-"
			if result.LastError != nil {
				lastError = *result.LastError
			}
			fmt.Fprintf(w, "  %s\t%s\t%d\t%d\t%d\t%s\n",
				result.ThreadID, result.State, result.Iterations,
				result.SkippedSteps, result.Retries, lastError)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if showEvents {
		fmt.Printf("events (%d):\n", len(events))
		for _, event := range events {
			thread := "-"
			if event.ThreadID != nil {
				thread = *event.ThreadID
			}
			fmt.Printf("  %s  %-7s %-24s thread=%s  %s\n",
				event.Timestamp.Format("15:04:05"), event.Level, event.Type, thread, event.Message)
		}
	}
	return nil
}

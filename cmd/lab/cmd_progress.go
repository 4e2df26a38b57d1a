package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chemlab/internal/logging"
	"chemlab/internal/store"
)

var (
	progressExperiment string
	progressLimit      int
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show recorded progress",
	Long:  `Prints per-experiment summaries, or the latest sessions with --sessions.`,
	RunE:  showProgress,
}

var showSessions bool

func init() {
	progressCmd.Flags().BoolVar(&showSessions, "sessions", false, "List sessions instead of summaries")
	progressCmd.Flags().StringVar(&progressExperiment, "experiment", "", "Only sessions of this experiment")
	progressCmd.Flags().IntVar(&progressLimit, "limit", 20, "Maximum sessions to list")
}

func showProgress(cmd *cobra.Command, args []string) error {
	s, err := store.Open(cfg.Store.Driver, cfg.Store.Path, loggers.Get(logging.CategoryStore))
	if err != nil {
		return fmt.Errorf("failed to open progress store: %w", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	if showSessions || progressExperiment != "" {
		sessions, err := s.Sessions(ctx, store.Filter{ExperimentID: progressExperiment, Limit: progressLimit})
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "SESSION\tEXPERIMENT\tSTEP\tPROGRESS\tUPDATED")
		for _, sess := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d%%\t%s\n", sess.SessionID, sess.ExperimentID,
				sess.CurrentStep, sess.ProgressPercentage, sess.ReportedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	}

	sums, err := s.Summaries(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "EXPERIMENT\tSESSIONS\tCOMPLETED\tAVERAGE")
	for _, sum := range sums {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\n", sum.ExperimentID, sum.Sessions, sum.Completed, sum.AverageProgress)
	}
	return w.Flush()
}

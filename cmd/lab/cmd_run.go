package main

import (
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chemlab/cmd/lab/ui"
	"chemlab/internal/engine"
	"chemlab/internal/experiment"
	"chemlab/internal/logging"
	"chemlab/internal/progress"
)

var (
	scriptPath string
	animate    bool
	noStore    bool
	sessionID  string
	maxRepeats int
)

var runCmd = &cobra.Command{
	Use:   "run [experiment]",
	Short: "Run an experiment headless",
	Long: `Runs an experiment without the interactive player and prints every event
with the resulting step, phase and vessel colors.

With --script the events come from a YAML file:

  - place: flask
  - invoke: add-titrant
    repeat: 6
  - invoke: add-titrant
    amount: 21.6
  - expect: {phase: approaching}

Without a script the experiment is solved step by step, one portion at a time.`,
	Args: cobra.ExactArgs(1),
	RunE: runExperiment,
}

var playCmd = &cobra.Command{
	Use:   "play [experiment]",
	Short: "Run an experiment in the interactive terminal player",
	Args:  cobra.ExactArgs(1),
	RunE:  playExperiment,
}

func init() {
	runCmd.Flags().StringVarP(&scriptPath, "script", "s", "", "YAML event script")
	runCmd.Flags().BoolVar(&animate, "animate", false, "Let transitions play out instead of skipping them")
	runCmd.Flags().IntVar(&maxRepeats, "max-repeats", 500, "Action invocations allowed per step when solving")
	for _, c := range []*cobra.Command{runCmd, playCmd} {
		c.Flags().BoolVar(&noStore, "no-store", false, "Do not record progress in the local store")
		c.Flags().StringVar(&sessionID, "session", "", "Session id (default: random)")
	}
}

func newEngine(def *experiment.Definition, sink progress.Sink) (*engine.Engine, error) {
	return engine.New(def,
		engine.WithSink(sink),
		engine.WithSessionID(sessionID),
		engine.WithLogging(loggers),
		engine.WithTickInterval(cfg.GetTickInterval()),
		engine.WithTransitionDuration(cfg.GetTransitionDuration()),
		engine.WithNoticeTTL(cfg.GetNoticeTTL()),
	)
}

func runExperiment(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cat, err := loadCatalog(ctx)
	if err != nil {
		return err
	}
	def, err := cat.Get(args[0])
	if err != nil {
		return err
	}
	var script engine.Script
	if scriptPath != "" {
		if script, err = engine.LoadScript(scriptPath); err != nil {
			return err
		}
	}

	sinks, err := openSinks(noStore)
	if err != nil {
		return err
	}
	defer sinks.Close()

	e, err := newEngine(def, sinks)
	if err != nil {
		return err
	}
	r := engine.NewRunner(e, 0)
	r.Start(ctx)
	defer r.Stop()

	log := loggers.Get(logging.CategoryEngine)
	log.Info("headless run",
		zap.String("experiment", def.ID),
		zap.String("session", e.SessionID()),
		zap.Bool("scripted", script != nil))

	out := cmd.OutOrStdout()
	styles := ui.DefaultStyles()
	observe := func(res engine.Result) { printResult(out, styles, res) }

	start := time.Now()
	if script != nil {
		err = script.Run(ctx, r, !animate, observe)
	} else {
		err = r.Solve(ctx, maxRepeats, observe)
	}
	if err != nil {
		return err
	}

	snap, err := r.WaitIdle(ctx)
	if err != nil {
		return err
	}
	printSummary(out, styles, def, snap)
	log.Info("headless run finished",
		zap.Int("progress", snap.Progress.ProgressPercentage),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func printResult(w io.Writer, s ui.Styles, res engine.Result) {
	snap := res.Snapshot
	status := s.Success.Render("ok")
	if res.Err != nil {
		status = s.Error.Render(res.Err.Error())
	}
	line := fmt.Sprintf("%-32s step %d/%d", res.Event.String(), snap.ActiveStep+1, len(snap.Steps))
	if p := snap.PhaseName(); p != "" {
		line += "  " + s.Info.Render(p)
	}
	for _, v := range snap.Vessels {
		line += "  " + ui.Swatch(v.Color, 2) + " " + v.ID
	}
	fmt.Fprintf(w, "%s  %s\n", line, status)
}

func printSummary(w io.Writer, s ui.Styles, def *experiment.Definition, snap engine.Snapshot) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, s.Header.Render(def.Title))
	fmt.Fprint(w, ui.StepList(s, snap.Steps))
	fmt.Fprint(w, ui.Vessels(s, snap.Vessels))
	if def.Titration != nil && def.Driver != nil {
		if d, ok := snap.Dial(def.Driver.Dial); ok {
			fmt.Fprintln(w, ui.TitrationSummary(s, def.Titration, d.Reading))
		}
	}
	fmt.Fprintf(w, "progress %d%%  session %s\n", snap.Progress.ProgressPercentage, snap.SessionID)
}

func playExperiment(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog(cmd.Context())
	if err != nil {
		return err
	}
	def, err := cat.Get(args[0])
	if err != nil {
		return err
	}
	sinks, err := openSinks(noStore)
	if err != nil {
		return err
	}
	defer sinks.Close()

	e, err := newEngine(def, sinks)
	if err != nil {
		return err
	}
	p := tea.NewProgram(ui.NewPlayerModel(e), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("player failed: %w", err)
	}
	return nil
}

package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"chemlab/internal/experiment"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available experiments",
	RunE:  runList,
}

var describeCmd = &cobra.Command{
	Use:   "describe [experiment]",
	Short: "Show an experiment's description and steps",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

var validateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Validate experiment definition files",
	Long: `Parses and validates definition files. With no arguments, validates every
definition in the catalog (built-ins plus --experiments).`,
	RunE: runValidate,
}

var describeWidth int

func init() {
	describeCmd.Flags().IntVar(&describeWidth, "width", 80, "Word wrap width")
}

func runList(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTEPS\tSOURCE")
	for _, def := range cat.List() {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", def.ID, def.Title, len(def.Steps), cat.Source(def.ID))
	}
	return w.Flush()
}

// describeMarkdown renders a definition as markdown for glamour.
func describeMarkdown(def *experiment.Definition) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", def.Title)
	if def.Description != "" {
		sb.WriteString(strings.TrimSpace(def.Description) + "\n\n")
	}

	sb.WriteString("## Equipment\n\n")
	for _, eq := range def.Equipment {
		fmt.Fprintf(&sb, "- **%s** (`%s`, %s)\n", eq.Name, eq.ID, eq.Kind)
	}

	sb.WriteString("\n## Steps\n\n")
	for i, st := range def.Steps {
		title := st.Title
		if title == "" {
			title = st.ID
		}
		fmt.Fprintf(&sb, "%d. **%s**", i+1, title)
		if st.Description != "" {
			fmt.Fprintf(&sb, ": %s", strings.Join(strings.Fields(st.Description), " "))
		}
		if st.Policy() == experiment.CompleteOnPhase {
			fmt.Fprintf(&sb, " _(until %s)_", st.Phase)
		}
		sb.WriteString("\n")
	}

	if t := def.Titration; t != nil {
		fmt.Fprintf(&sb, "\n## Expected endpoint\n\n%.2f mL of titrant (N_a·V_a/N_t = %g·%g/%g)\n",
			t.EndpointVolume(), t.AnalyteNormality, t.AnalyteVolume, t.TitrantNormality)
	}
	return sb.String()
}

func runDescribe(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog(cmd.Context())
	if err != nil {
		return err
	}
	def, err := cat.Get(args[0])
	if err != nil {
		return err
	}

	md := describeMarkdown(def)
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(describeWidth),
	)
	if err != nil {
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	}
	out, err := renderer.Render(md)
	if err != nil {
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		cat, err := loadCatalog(cmd.Context())
		if err != nil {
			return err
		}
		for _, def := range cat.List() {
			fmt.Fprintf(out, "ok  %s (%s)\n", def.ID, cat.Source(def.ID))
		}
		return nil
	}

	var errs []error
	for _, file := range args {
		def, err := experiment.LoadFile(file)
		if err != nil {
			fmt.Fprintf(out, "FAIL %s\n", file)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "ok  %s (%s)\n", def.ID, file)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d definitions invalid: %w", len(errs), len(args), errors.Join(errs...))
	}
	return nil
}

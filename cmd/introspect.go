package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/dashloom-cli/internal/analysis"
	"github.com/KaramelBytes/dashloom-cli/internal/semantic"
	"github.com/KaramelBytes/dashloom-cli/internal/service"
)

var (
	introFormat    string
	introDelimiter string
	introParallel  int
	introSheet     string
)

type introspectResult struct {
	File  string          `json:"file"`
	Model *semantic.Model `json:"model"`
}

var introspectCmd = &cobra.Command{
	Use:   "introspect <file> [file...]",
	Short: "Classify the columns of CSV or JSON samples",
	Example: `  dashloom introspect leads.csv
  dashloom introspect --format table data/*.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		if introFormat != "json" && introFormat != "table" {
			return fmt.Errorf("invalid --format %q (use json or table)", introFormat)
		}
		delim, err := parseDelimiter(introDelimiter)
		if err != nil {
			return err
		}
		logger := newLogger(cmd.ErrOrStderr())
		svc := service.New(nil, nil, serviceOptions(c), logger)
		ctx := commandContext(cmd)

		results := make([]introspectResult, len(args))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(1, introParallel))
		for i, path := range args {
			g.Go(func() error {
				sample, err := analysis.LoadFile(path, analysis.LoadOptions{MaxRows: c.SampleRows, Delimiter: delim, Sheet: introSheet})
				if err != nil {
					return err
				}
				m, err := svc.IntrospectSample(gctx, sample)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				results[i] = introspectResult{File: path, Model: m}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if introFormat == "json" {
			if len(results) == 1 {
				return writeJSON(out, results[0].Model)
			}
			return writeJSON(out, results)
		}
		for _, r := range results {
			renderModel(out, r.File, r.Model)
		}
		return nil
	},
}

func renderModel(w io.Writer, file string, m *semantic.Model) {
	fmt.Fprintf(w, "%s (%d sampled rows, confidence %.2f)\n", file, m.SampleRows, m.Confidence)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Column", "Role", "Aggregator", "Format", "Confidence", "Filter", "Label"})
	for _, c := range m.Columns {
		t.AppendRow(table.Row{c.Name, c.Role, c.Aggregator, c.Format, fmt.Sprintf("%.2f", c.Confidence), c.FilterType, c.Label})
	}
	t.Render()

	if m.TimeColumn != "" {
		fmt.Fprintf(w, "time column: %s\n", m.TimeColumn)
	}
	if m.IDPrimary != "" {
		fmt.Fprintf(w, "primary id: %s\n", m.IDPrimary)
	}
	if m.Funnel.Detected {
		steps := make([]string, 0, len(m.Funnel.Stages))
		for _, st := range m.Funnel.Stages {
			steps = append(steps, st.Column)
		}
		fmt.Fprintf(w, "funnel: %s (confidence %.2f)\n", strings.Join(steps, " → "), m.Funnel.Confidence)
	}
	for _, warn := range m.Warnings {
		fmt.Fprintf(w, "⚠ %s\n", warn)
	}
	for _, a := range m.Assumptions {
		fmt.Fprintf(w, "• %s\n", a)
	}
	fmt.Fprintln(w)
}

func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return 0, nil
	case "tab", `\t`:
		return '\t', nil
	}
	r := []rune(s)
	if len(r) != 1 {
		return 0, fmt.Errorf("invalid --delimiter %q (use a single character or 'tab')", s)
	}
	return r[0], nil
}

func init() {
	rootCmd.AddCommand(introspectCmd)
	introspectCmd.Flags().StringVar(&introFormat, "format", "json", "output format: json|table")
	introspectCmd.Flags().StringVar(&introDelimiter, "delimiter", "", "CSV delimiter (default: sniffed)")
	introspectCmd.Flags().IntVar(&introParallel, "parallel", 4, "files profiled concurrently")
	introspectCmd.Flags().StringVar(&introSheet, "sheet", "", "XLSX worksheet name or 1-based index (default: first)")
}

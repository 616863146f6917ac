package cmd

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dashloom-cli/internal/ai"
)

var modelsJSON bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show the LLM providers and the model catalog used for spec generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat := ai.Catalog()
		out := cmd.OutOrStdout()
		if modelsJSON {
			return writeJSON(out, map[string]any{"providers": ai.Providers(), "models": cat})
		}
		fmt.Fprintf(out, "providers: %s\n", strings.Join(ai.Providers(), ", "))
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Model", "Context", "USD/1K in", "USD/1K out"})
		for _, m := range cat {
			t.AppendRow(table.Row{m.Name, m.ContextTokens, fmt.Sprintf("%.5f", m.InputPerK), fmt.Sprintf("%.5f", m.OutputPerK)})
		}
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "print JSON instead of a table")
}

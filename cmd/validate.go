package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dashloom-cli/internal/analysis"
	"github.com/KaramelBytes/dashloom-cli/internal/dashspec"
	"github.com/KaramelBytes/dashloom-cli/internal/service"
)

var (
	valColumns string
	valData    string
	valStrict  bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <spec.json>",
	Short: "Repair a candidate spec against a dataset's columns",
	Long: `Validate checks every column reference of a candidate spec against the dataset
columns, applies auto-fixes and reports them as warnings. Specs with non-finite
numbers or too many issues are regenerated from the columns alone.

Columns come from --columns (a JSON list of {name, type, role}) or are derived
from a data sample with --data.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		if (valColumns == "") == (valData == "") {
			return errors.New("specify exactly one of --columns or --data")
		}
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read spec: %w", err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode spec: %w", err)
		}

		logger := newLogger(cmd.ErrOrStderr())
		svc := service.New(nil, nil, serviceOptions(c), logger)
		var cols []dashspec.DatasetColumn
		if valColumns != "" {
			b, err := os.ReadFile(valColumns)
			if err != nil {
				return fmt.Errorf("read columns: %w", err)
			}
			if err := json.Unmarshal(b, &cols); err != nil {
				return fmt.Errorf("decode columns: %w", err)
			}
		} else {
			sample, err := analysis.LoadFile(valData, analysis.LoadOptions{MaxRows: c.SampleRows})
			if err != nil {
				return err
			}
			m, err := svc.IntrospectSample(commandContext(cmd), sample)
			if err != nil {
				return err
			}
			cols = dashspec.ColumnsFromModel(m)
		}

		res := svc.ValidateSpec(doc, cols)
		if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if valStrict && (res.Regenerated || len(res.Warnings) > 0) {
			return fmt.Errorf("spec needed repair: %s", strings.Join(append(res.Errors, res.Warnings...), "; "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&valColumns, "columns", "", "JSON file with the dataset column list")
	validateCmd.Flags().StringVar(&valData, "data", "", "CSV/JSON/XLSX sample to derive the column list from")
	validateCmd.Flags().BoolVar(&valStrict, "strict", false, "exit non-zero when any repair was needed")
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dashloom-cli/internal/analysis"
	"github.com/KaramelBytes/dashloom-cli/internal/dashspec"
	"github.com/KaramelBytes/dashloom-cli/internal/service"
	"github.com/KaramelBytes/dashloom-cli/internal/utils"
)

var (
	genSave       bool
	genGenerator  bool
	genProvider   string
	genModel      string
	genOllamaHost string
	genOut        string
	genName       string
	genAuthor     string
	genDelimiter  string
	genBinding    map[string]string
	genSheet      string
)

var generateCmd = &cobra.Command{
	Use:   "generate <file>",
	Short: "Synthesize a validated dashboard spec from a data sample",
	Example: `  dashloom generate leads.csv
  dashloom generate leads.csv --generator --model openai/gpt-4o-mini
  dashloom generate leads.csv --save --binding datasource=pg-main --binding tenant_id=acme`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		delim, err := parseDelimiter(genDelimiter)
		if err != nil {
			return err
		}
		logger := newLogger(cmd.ErrOrStderr())
		ctx := commandContext(cmd)

		useGen := c.GeneratorEnabled
		if cmd.Flags().Changed("generator") {
			useGen = genGenerator
		}
		gen, err := newGenerator(c, generatorOptions{
			Enabled:        useGen,
			runtimeOptions: runtimeOptions{ProviderFlag: genProvider, OllamaHost: genOllamaHost},
			Model:          genModel,
		}, logger)
		if err != nil {
			return err
		}

		sample, err := analysis.LoadFile(args[0], analysis.LoadOptions{MaxRows: c.SampleRows, Delimiter: delim, Sheet: genSheet})
		if err != nil {
			return err
		}
		name := genName
		if name == "" {
			name = strings.TrimSuffix(sample.Name, filepath.Ext(sample.Name))
		}
		sample.Name = name

		svc := service.New(nil, gen, serviceOptions(c), logger)
		if genSave {
			stored, closeStore, err := openService(ctx, c, gen, logger)
			if err != nil {
				return err
			}
			defer closeStore()
			svc = stored
		}
		m, err := svc.IntrospectSample(ctx, sample)
		if err != nil {
			return err
		}

		var (
			spec     *dashspec.Spec
			warnings []string
			fallback string
		)
		if genSave {
			created, err := svc.CreateFromModel(ctx, m, name, useGen, genBinding, genAuthor)
			if err != nil {
				return err
			}
			spec, warnings, fallback = created.Outcome.Spec, created.Outcome.Warnings, created.Outcome.FallbackReason
			fmt.Fprintf(cmd.ErrOrStderr(), "✓ Saved dashboard %s (version 1, source %s)\n", created.Dashboard.ID, created.Outcome.Source)
		} else {
			out, err := svc.Synthesize(ctx, m, useGen)
			if err != nil {
				return err
			}
			spec, warnings, fallback = out.Spec, out.Warnings, out.FallbackReason
		}
		if fallback != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "⚠ generator unavailable (%s); heuristic spec used\n", fallback)
		}
		for _, w := range warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "⚠ %s\n", w)
		}

		b, err := utils.PrettyJSON(spec)
		if err != nil {
			return err
		}
		if genOut != "" {
			if err := utils.SafeWriteFile(genOut, b, 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "✓ Wrote %s\n", genOut)
			return nil
		}
		_, err = cmd.OutOrStdout().Write(b)
		return err
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
	f := generateCmd.Flags()
	f.BoolVar(&genSave, "save", false, "store the spec as a new dashboard (version 1)")
	f.BoolVar(&genGenerator, "generator", false, "ask an LLM for a candidate spec (falls back to the heuristic builder)")
	f.StringVar(&genProvider, "provider", "", "LLM provider: openrouter|openai|ollama (default from config)")
	f.StringVar(&genModel, "model", "", "model name (default from config)")
	f.StringVar(&genOllamaHost, "ollama-host", "", "Ollama endpoint (default from config)")
	f.StringVarP(&genOut, "out", "o", "", "write the spec to a file instead of stdout")
	f.StringVar(&genName, "name", "", "dashboard name (default: file name)")
	f.StringVar(&genAuthor, "author", os.Getenv("USER"), "author recorded with --save")
	f.StringVar(&genDelimiter, "delimiter", "", "CSV delimiter (default: sniffed)")
	f.StringVar(&genSheet, "sheet", "", "XLSX worksheet name or 1-based index (default: first)")
	f.StringToStringVar(&genBinding, "binding", nil, "data-source binding stored outside the spec (key=value)")
}

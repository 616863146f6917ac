package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dashloom-cli/internal/logging"
	"github.com/KaramelBytes/dashloom-cli/internal/server"
)

var (
	serveAddr       string
	serveGenerator  bool
	serveProvider   string
	serveModel      string
	serveOllamaHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve exposes introspection, dashboard creation, retrieval, history, patching
and rollback under /v1, plus /metrics and /healthz. Logs are JSON on stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		addr := c.ServerAddr
		if serveAddr != "" {
			addr = serveAddr
		}
		logger := logging.NewJSONLogger(cmd.ErrOrStderr(), logLevel())

		useGen := c.GeneratorEnabled
		if cmd.Flags().Changed("generator") {
			useGen = serveGenerator
		}
		gen, err := newGenerator(c, generatorOptions{
			Enabled:        useGen,
			runtimeOptions: runtimeOptions{ProviderFlag: serveProvider, OllamaHost: serveOllamaHost},
			Model:          serveModel,
		}, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()
		svc, closeStore, err := openService(ctx, c, gen, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		return server.New(server.Config{Addr: addr, Backend: svc, Logger: logger}).Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	f := serveCmd.Flags()
	f.StringVar(&serveAddr, "addr", "", "listen address (default from config server_addr)")
	f.BoolVar(&serveGenerator, "generator", false, "allow use_generator requests to call an LLM")
	f.StringVar(&serveProvider, "provider", "", "LLM provider: openrouter|openai|ollama (default from config)")
	f.StringVar(&serveModel, "model", "", "model name (default from config)")
	f.StringVar(&serveOllamaHost, "ollama-host", "", "Ollama endpoint (default from config)")
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/quatton/apsflow/pkg/db"
	"github.com/quatton/apsflow/pkg/qapi"
	"github.com/quatton/apsflow/pkg/qapi/config"
	"github.com/quatton/apsflow/pkg/qapi/services"
	"github.com/quatton/apsflow/pkg/qapi/services/callbacks"
	"github.com/quatton/apsflow/pkg/qapi/services/workitems"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qrunner"
	"github.com/quatton/apsflow/pkg/qtrace"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"run"},
	Short:   "Serve the webhook receiver",
	Long: `Serve the webhook receiver configured from the environment:

	PORT             listen port (default 3000)
	BASE_URL         public URL the job service reaches this server on
	DATABASE_URL     ledger database; without it callbacks are only logged
	CALLBACK_SECRET  shared secret expected in the callback query string
	OTLP_ENDPOINT    OTLP HTTP collector for traces

In development a .env file in the working directory is loaded first.`,
	RunE: serve,
}

var migrateOnStart bool

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply ledger migrations before serving")
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := qlog.NewDefault()
	cfg, err := config.ValidateEnv()
	if err != nil {
		return err
	}
	cfg.Print(func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, format, args...)
	})

	provider, err := qtrace.InitTracer(ctx, qtrace.Config{
		ServiceName:  "apsflowd",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     config.IsDev(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer provider.Shutdown(context.Background())

	reg := qapi.NewRegistry()
	cbOpts := []callbacks.Option{
		callbacks.WithSecret(cfg.CallbackSecret),
		callbacks.WithRegisterer(reg),
		callbacks.WithLogger(logger),
		callbacks.WithHandler(func(ctx context.Context, kind callbacks.Kind, wi *qrunner.WorkItem) {
			logger.Info("work item callback", "kind", kind, "id", wi.ID, "status", wi.Status)
		}),
	}

	var ledger workitems.Ledger
	if cfg.DatabaseURL != "" {
		database, err := db.New(ctx, db.Config{DSN: cfg.DatabaseURL})
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer database.Close()

		if migrateOnStart {
			if err := db.Migrate(ctx, database, logger); err != nil {
				return err
			}
		}
		l := db.NewLedger(database)
		ledger = l
		cbOpts = append(cbOpts, callbacks.WithRecorder(l))
	}

	svcs := &services.Services{
		Callbacks: callbacks.NewService(cbOpts...),
		WorkItems: workitems.NewService(ledger),
	}

	logger.Info("callback urls",
		"onComplete", redact(cfg, callbacks.KindComplete),
		"onProgress", redact(cfg, callbacks.KindProgress))
	logger.Info("openapi docs", "url", cfg.BaseURL+"/docs")

	return qapi.Serve(ctx, ":"+cfg.Port, qapi.Handler(svcs, reg, provider.Tracer()), logger)
}

// redact prints a callback URL without its secret.
func redact(cfg *config.EnvConfig, kind callbacks.Kind) string {
	masked := *cfg
	masked.CallbackSecret = ""
	u := masked.CallbackURL(string(kind))
	if cfg.CallbackSecret != "" {
		u += "?secret=" + config.MaskSecret(cfg.CallbackSecret)
	}
	return u
}

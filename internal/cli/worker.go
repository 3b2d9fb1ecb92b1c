package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/paraplan/paraplan/internal/dispatch"
	"github.com/paraplan/paraplan/internal/habit"
	"github.com/paraplan/paraplan/internal/planner"
	"github.com/paraplan/paraplan/internal/store"
)

// Exit codes of the worker CLI.
const (
	ExitOK            = 0
	ExitUnrecoverable = 1
	ExitBadConfig     = 2
)

// ExitError carries the process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the notification dispatcher",
	Long: `Bootstraps the schema and runs the notification dispatcher until the
process receives SIGINT or SIGTERM. In-flight work drains before exit.`,
	RunE:          runWorker,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if debug {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func runWorker(cmd *cobra.Command, args []string) error {
	if configErr != nil {
		return &ExitError{Code: ExitBadConfig, Err: configErr}
	}
	if appConfig.Database.URL == "" {
		return &ExitError{Code: ExitBadConfig, Err: fmt.Errorf("database url is required")}
	}
	if !appConfig.Worker.SchedulerEnabled {
		return &ExitError{Code: ExitBadConfig, Err: fmt.Errorf("scheduler is disabled; set worker.scheduler_enabled or PARAPLAN_SCHEDULER_ENABLED")}
	}

	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, logger)
	if err != nil {
		return &ExitError{Code: ExitUnrecoverable, Err: err}
	}
	defer st.Close()

	if err := st.Bootstrap(ctx); err != nil {
		return &ExitError{Code: ExitUnrecoverable, Err: err}
	}

	sendTimeout := time.Duration(appConfig.Worker.SendTimeoutSeconds) * time.Second
	senders := map[string]dispatch.Sender{}
	if appConfig.Telegram.BotToken != "" {
		senders["telegram"] = &dispatch.TelegramSender{
			Token:  appConfig.Telegram.BotToken,
			Client: &http.Client{Timeout: sendTimeout},
		}
	}
	if appConfig.Email.Host != "" {
		senders["email"] = &dispatch.EmailSender{
			Host: appConfig.Email.Host,
			Port: appConfig.Email.Port,
			From: appConfig.Email.From,
		}
	}

	dispatcher := dispatch.New(
		st,
		planner.New(logger),
		senders,
		habit.NewService(logger),
		dispatch.Config{
			PollInterval: time.Duration(appConfig.Worker.PollIntervalSeconds) * time.Second,
			Jitter:       time.Duration(appConfig.Worker.JitterSeconds) * time.Second,
			BatchSize:    appConfig.Worker.BatchSize,
			SendTimeout:  sendTimeout,
		},
		dispatch.SystemClock(),
		logger,
	)

	if err := dispatcher.Run(ctx); err != nil {
		return &ExitError{Code: ExitUnrecoverable, Err: err}
	}
	return nil
}

func openStore(ctx context.Context, logger zerolog.Logger) (*store.Store, error) {
	cfg := store.NewConfig(appConfig.Database.URL)
	cfg.MaxOpenConns = appConfig.Database.MaxConnections
	return store.Open(ctx, cfg, logger)
}

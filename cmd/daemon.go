package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"gotrack/config"
	"gotrack/internal/app"
	"gotrack/messaging"
	"gotrack/worker"
)

var daemonForeground bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background worker and the local message channel",
	Long: `Run the background daemon.

Every daemon.tick_interval the daemon records a heartbeat for the running
session (detecting gaps), flushes the sync queue and refreshes the cached worklogs
of the current week. CLI invocations reach it on daemon.listen (localhost only).

Logs go to daemon.log_file (rotated at daemon.log_max_size_mb) or to stderr when
no file is configured or --foreground is set.`,
	Example: `
  # Run with logs on stderr
  gotrack daemon --foreground

  # Run with the configured log file, e.g. from a user service unit
  gotrack daemon
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAndValidate()
		if err != nil {
			return err
		}

		logWriter, closeLog, err := daemonLogWriter(cfg.Daemon, daemonForeground)
		if err != nil {
			return err
		}
		defer closeLog()
		logger := slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: parseLogLevel(cfg.Daemon.LogLevel)}))
		slog.SetDefault(logger)

		a, err := openApp(app.Options{Logger: logger})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := ensureDaemonStopped(ctx, a.Daemon); err != nil {
			return fmt.Errorf("another daemon is running: %w", err)
		}
		listener, err := net.Listen("tcp", cfg.Daemon.Listen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Daemon.Listen, err)
		}

		viper.OnConfigChange(configReloadHandler(logger, func() error {
			_, err := config.LoadAndValidate()
			return err
		}))
		if viper.ConfigFileUsed() != "" {
			viper.WatchConfig()
		}

		server := &http.Server{
			Handler: messaging.NewServer(messaging.Services{
				Flusher:  a.Flusher,
				Tracker:  a.Tracker,
				Worklogs: a.Worklogs,
				Holder:   a.Flusher.Holder(),
				Location: a.Location,
				Now:      a.Now,
				Logger:   logger,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Serve(listener)
		}()

		w := worker.New(worker.Config{
			Interval: cfg.Daemon.TickInterval,
			Tracker:  a.Tracker,
			Flusher:  a.Flusher,
			Cache:    a.Worklogs,
			Fetcher:  a.Adapter,
			Location: a.Location,
			Now:      a.Now,
			Logger:   logger,
		})
		workerDone := make(chan struct{})
		go func() {
			defer close(workerDone)
			_ = w.Run(ctx)
		}()

		logger.Info("daemon started",
			slog.String("listen", listener.Addr().String()),
			slog.String("holder", a.Flusher.Holder()),
			slog.String("backend", cfg.Backend.Instance),
		)
		fmt.Printf("Listening on %s\n", listener.Addr())

		var serveErr error
		select {
		case serveErr = <-errCh:
			stop()
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown server: %w", err)
			}
			serveErr = <-errCh
		}
		<-workerDone
		logger.Info("daemon stopped")

		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().BoolVar(&daemonForeground, "foreground", false, "Log to stderr instead of daemon.log_file")
}

// daemonLogWriter returns the rotating log file, or stderr when none is configured.
func daemonLogWriter(cfg config.DaemonConfig, foreground bool) (io.Writer, func(), error) {
	path := config.ExpandPath(cfg.LogFile)
	if foreground || path == "" {
		return os.Stderr, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	rotating := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: 3,
		MaxAge:     28,
	}
	return rotating, func() { _ = rotating.Close() }, nil
}

func parseLogLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// configReloadHandler logs config file changes. Changes to the backend or the
// listen address apply after a daemon restart.
func configReloadHandler(logger *slog.Logger, validate func() error) func(fsnotify.Event) {
	return func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}
		if err := validate(); err != nil {
			logger.Warn("config changed but is invalid", slog.String("file", event.Name), slog.String("error", err.Error()))
			return
		}
		logger.Info("config changed, restart the daemon to apply it", slog.String("file", event.Name))
	}
}

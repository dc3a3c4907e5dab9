package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fentz26/timebook/internal/audit"
	"github.com/fentz26/timebook/internal/config"
	"github.com/fentz26/timebook/internal/controlplane"
	"github.com/fentz26/timebook/internal/ledger"
	"github.com/fentz26/timebook/internal/models"
	"github.com/fentz26/timebook/internal/pomodoro"
	"github.com/fentz26/timebook/internal/store"
	"github.com/fentz26/timebook/internal/ticker"
	"github.com/fentz26/timebook/internal/timelog"
)

var (
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the timebook daemon",
	Long:  `Starts the daemon that runs the pomodoro engine and serves the HTTP API.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if !debug {
		if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}

	log.Info().Str("config", configPath).Msg("Starting timebook daemon")

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	snap, found, err := s.LoadSnapshot(ctx)
	if err != nil {
		s.Close()
		return fmt.Errorf("loading state: %w", err)
	}

	tl := timelog.New()
	l := ledger.New(cfg.Ledger.InitialAllowance, ledger.WithJournal(tl))
	todos := controlplane.NewTodoList()
	dispatcher := pomodoro.NewDispatcher(0)

	var persister *store.Persister
	mark := func() { persister.Mark() }

	engine := pomodoro.New(l, tl, ticker.NewClock(cfg.TickInterval),
		pomodoro.Config{Settings: cfg.Settings(), DrawFromUnallocated: cfg.Pomodoro.DrawFromUnallocated},
		pomodoro.WithLabels(todos.Label),
		pomodoro.WithNotifier(dispatcher),
		pomodoro.WithOnChange(mark),
	)
	service := controlplane.NewService(l, tl, engine, todos, audit.NewPDRWriter(s))
	persister = store.NewPersister(s, service.Snapshot, cfg.PersistDebounce)
	tl.OnAppend(func(models.LogEntry) { mark() })
	service.OnChange(mark)

	server := controlplane.NewServer(service, s, cfg.Listen)
	dispatcher.Subscribe(server.Events())
	dispatcher.Subscribe(pomodoro.NotifierFunc(func(n pomodoro.Notification) {
		log.Info().Str("type", string(n.Kind)).Str("account", n.AccountID).Msg("Session event")
	}))

	watcher := config.NewWatcher(configPath, func(next *config.Config) {
		if err := engine.SetDurations(ctx, next.Settings()); err != nil {
			log.Warn().Err(err).Msg("Failed to apply new durations")
		}
		if !debug {
			if level, err := zerolog.ParseLevel(next.LogLevel); err == nil {
				zerolog.SetGlobalLevel(level)
			}
		}
	})

	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()
	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(engineCtx) }()

	if found {
		if err := service.Restore(ctx, snap); err != nil {
			stopEngine()
			<-engineDone
			s.Close()
			return fmt.Errorf("restoring state: %w", err)
		}
		log.Info().
			Int("accounts", len(snap.Accounts)).
			Int("todos", len(snap.Todos)).
			Int("entries", len(snap.TimeLogs)).
			Msg("Restored state")
	} else {
		log.Info().Int64("allowance", cfg.Ledger.InitialAllowance).Msg("Starting with a fresh ledger")
		persister.Mark()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error { return persister.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down HTTP server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error().Err(runErr).Msg("Daemon stopped with error")
	}

	// The engine stops last so an active session is logged before the final save.
	stopEngine()
	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("Engine stopped with error")
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := persister.Flush(flushCtx); err != nil {
		log.Error().Err(err).Msg("Final save failed")
	}

	log.Info().Msg("Closing database connection...")
	if err := s.Close(); err != nil {
		log.Error().Err(err).Msg("Database close error")
	}

	log.Info().Msg("Shutdown complete")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// daemonRunning reports whether the API at addr answers /health.
func daemonRunning(addr string) bool {
	client := http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(addr + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

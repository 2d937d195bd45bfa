// Package app wires the components together and owns their lifecycle:
// store, monitor, insight service, HTTP server, maintenance jobs, and
// the optional Telegram notifier.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mintlabs/engagemint/internal/bus"
	"github.com/mintlabs/engagemint/internal/config"
	"github.com/mintlabs/engagemint/internal/insight"
	"github.com/mintlabs/engagemint/internal/maintenance"
	"github.com/mintlabs/engagemint/internal/monitor"
	"github.com/mintlabs/engagemint/internal/notify"
	"github.com/mintlabs/engagemint/internal/server"
	"github.com/mintlabs/engagemint/internal/store"
)

// Options allows tests to inject dependencies.
type Options struct {
	Generator  insight.Generator
	SignalChan chan os.Signal
}

type App struct {
	cfg         *config.Config
	store       *store.Store
	bus         *bus.Bus
	monitor     *monitor.Monitor
	insights    *insight.Service
	server      *server.Server
	maintenance *maintenance.Service
	notifier    *notify.TelegramNotifier
	signalChan  chan os.Signal
}

func New(cfg *config.Config) (*App, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*App, error) {
	a := &App{cfg: cfg, signalChan: opts.SignalChan}

	dbPath := strings.TrimSpace(cfg.Store.DBPath)
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "engagemint.db")
	}
	st, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st

	a.bus = bus.New()
	a.monitor = monitor.New(st, a.bus, cfg.Monitor)

	gen := opts.Generator
	if gen == nil {
		gen = insight.NewGenerator(cfg)
	}
	a.insights = insight.NewService(st, gen)

	a.server = server.New(cfg, st, a.insights, a.monitor, a.bus)
	a.maintenance = maintenance.New(st, a.monitor, cfg.Maintenance)

	if cfg.Notify.Telegram.Enabled {
		notifier, err := notify.NewTelegramNotifier(cfg.Notify.Telegram, a.bus)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("create telegram notifier: %w", err)
		}
		a.notifier = notifier
	}

	return a, nil
}

// Run starts everything and blocks until SIGINT/SIGTERM or context
// cancellation, then shuts down in reverse order.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := a.maintenance.Start(ctx); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}
	if a.notifier != nil {
		if err := a.notifier.Start(ctx); err != nil {
			log.Printf("[app] telegram notifier start warning: %v", err)
		}
	}

	go func() {
		if err := a.monitor.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("[app] monitor error: %v", err)
		}
	}()

	log.Printf("[app] running on %s:%d", a.cfg.Server.Host, a.cfg.Server.Port)

	sigCh := a.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[app] shutting down...")
	return a.Shutdown()
}

func (a *App) Shutdown() error {
	if a.notifier != nil {
		_ = a.notifier.Stop()
	}
	a.maintenance.Stop()
	_ = a.server.Stop()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// Store exposes the store for the status command.
func (a *App) Store() *store.Store {
	return a.store
}

package app

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/mintlabs/engagemint/internal/config"
)

type noopGen struct{}

func (noopGen) Generate(ctx context.Context, prompt string) (string, error) {
	return `{"keyInsights":"x","recommendations":["y"]}`, nil
}

func TestAppStartsAndShutsDownOnSignal(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Port = 0 // random free port
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "app.db")

	sigCh := make(chan os.Signal, 1)
	a, err := NewWithOptions(cfg, Options{Generator: noopGen{}, SignalChan: sigCh})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	sigCh <- syscall.SIGTERM

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
}

func TestAppRequiresValidTelegramConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "app.db")
	cfg.Notify.Telegram.Enabled = true // no token or chat id

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for enabled telegram without credentials")
	}
}

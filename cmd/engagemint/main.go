package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mintlabs/engagemint/internal/app"
	"github.com/mintlabs/engagemint/internal/bus"
	"github.com/mintlabs/engagemint/internal/config"
	"github.com/mintlabs/engagemint/internal/monitor"
	"github.com/mintlabs/engagemint/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "engagemint",
	Short: "engagemint - classroom engagement monitoring and insights",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server, live monitor, and maintenance jobs",
	RunE:  runServe,
}

var monitorCmd = &cobra.Command{
	Use:   "monitor <sessionID>",
	Short: "Run the live loop against one session, printing ticks and alerts",
	Args:  cobra.ExactArgs(1),
	RunE:  runMonitor,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directory",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engagemint status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(serveCmd, monitorCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Insight.Provider.APIKey == "" {
		fmt.Println("Warning: no API key set; insights will use the deterministic fallback.")
		fmt.Println("Run 'engagemint onboard' or set ENGAGEMINT_API_KEY to enable model insights.")
	}

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	return a.Run(context.Background())
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.Store.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "engagemint.db")
	}
	st, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	sessionID := args[0]
	if _, err := st.GetSession(sessionID); err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bus.New()
	mon := monitor.New(st, b, cfg.Monitor)
	mon.Watch(sessionID)

	events, cancel := b.Subscribe()
	defer cancel()
	go func() {
		for e := range events {
			switch e.Kind {
			case bus.KindTick:
				fmt.Printf("tick  second=%.0f value=%d state=%s\n", e.Tick.AtSecond, e.Tick.Value, e.Tick.State)
			case bus.KindAlert:
				fmt.Printf("alert type=%s message=%q opacity=%.1f\n", e.Alert.Alert.Type, e.Alert.Alert.Message, e.Alert.Alert.Opacity)
			}
		}
	}()

	if err := mon.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set ENGAGEMINT_API_KEY environment variable")
	fmt.Println("  3. Run 'engagemint serve' to start the server")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Model: %s\n", cfg.Insight.Model)
	apiKey := cfg.Insight.Provider.APIKey
	if apiKey != "" && len(apiKey) > 8 {
		fmt.Printf("API Key: %s...%s\n", apiKey[:4], apiKey[len(apiKey)-4:])
	} else if apiKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Device: %s\n", cfg.Monitor.DeviceID)
	fmt.Printf("Telegram: enabled=%v\n", cfg.Notify.Telegram.Enabled)

	dbPath := cfg.Store.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "engagemint.db")
	}
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println("Store: not found (run 'engagemint serve' to create it)")
		return nil
	}

	st, err := store.NewStore(dbPath)
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return nil
	}
	defer st.Close()

	counts, err := st.Stats()
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return nil
	}
	fmt.Printf("Store: %s\n", dbPath)
	fmt.Printf("  Sessions: %d\n", counts.Sessions)
	fmt.Printf("  Telemetry points: %d\n", counts.Points)
	fmt.Printf("  Cached insights: %d\n", counts.CacheEntries)

	return nil
}

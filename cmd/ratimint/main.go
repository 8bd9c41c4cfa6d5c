package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/immanencer/ratimint/internal/catalog"
	"github.com/immanencer/ratimint/internal/channel"
	"github.com/immanencer/ratimint/internal/config"
	"github.com/immanencer/ratimint/internal/maintenance"
	"github.com/immanencer/ratimint/internal/media"
	"github.com/immanencer/ratimint/internal/responder"
	"github.com/immanencer/ratimint/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "ratimint",
	Short: "Chat-relay bot: store service, telegram listener and AI responder",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Same bootstrap the node services used: .env is optional.
		_ = godotenv.Load()
	},
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Run the store service (message log + task queue)",
	RunE:  runStore,
}

var listenerCmd = &cobra.Command{
	Use:   "listener",
	Short: "Run the telegram listener (inbound logging + task delivery)",
	RunE:  runListener,
}

var responderCmd = &cobra.Command{
	Use:   "responder",
	Short: "Run the AI responder poll loop",
	RunE:  runResponder,
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Generate collectible metadata for a folder of images",
	RunE:  runCatalog,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Write a default config file",
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(storeCmd, listenerCmd, responderCmd, catalogCmd, onboardCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runStore(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	e := store.NewServer(st)

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		<-ctx.Done()
		log.Printf("[store] shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Printf("[store] shutdown: %v", err)
		}
	}()

	log.Printf("[store] service running on %s", cfg.Store.Listen)
	if err := e.Start(cfg.Store.Listen); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("store server: %w", err)
	}
	return nil
}

func runListener(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token == "" {
		return fmt.Errorf("telegram is not configured: set BOT_TOKEN or run 'ratimint onboard'")
	}

	client := store.NewClient(cfg.Store.URL)

	var uploader channel.Uploader
	med, err := media.New(cfg.Media)
	if err != nil {
		// Attachments get logged without a media reference.
		log.Printf("[listener] media uploads disabled: %v", err)
	} else {
		uploader = med
	}

	mgr, err := channel.NewManager(cfg.Channels, client, uploader)
	if err != nil {
		return fmt.Errorf("create channel manager: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := mgr.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[listener] channels started: %v", mgr.EnabledChannels())

	var housekeeping *maintenance.Service
	if med != nil {
		housekeeping = maintenance.NewService()
		err := housekeeping.Add(maintenance.Job{
			Name:     "tmp-cleanup",
			Schedule: "@daily",
			Run: func() (string, error) {
				removed, err := med.CleanTmp(24 * time.Hour)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("removed %d files", removed), nil
			},
		})
		if err != nil {
			log.Printf("[listener] %v", err)
		} else {
			housekeeping.Start()
		}
	}

	<-ctx.Done()
	log.Printf("[listener] shutting down...")
	if housekeeping != nil {
		housekeeping.Stop()
	}
	cancel()
	return mgr.StopAll()
}

func runResponder(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	llm, err := responder.NewOpenAIClient(cfg.Provider, cfg.Responder.Model)
	if err != nil {
		return err
	}

	client := store.NewClient(cfg.Store.URL)
	r, err := responder.New(client, llm, cfg.Responder)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	return r.Run(ctx)
}

func runCatalog(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	med, err := media.New(cfg.Media)
	if err != nil {
		return err
	}
	llm, err := responder.NewOpenAIClient(cfg.Provider, cfg.Responder.Model)
	if err != nil {
		return err
	}

	system := ""
	if cfg.Responder.SystemPromptPath != "" {
		data, err := os.ReadFile(cfg.Responder.SystemPromptPath)
		if err != nil {
			return fmt.Errorf("read system prompt: %w", err)
		}
		system = string(data)
	}

	gen := catalog.NewGenerator(med, llm, system, cfg.Catalog.ImagesDir, cfg.Catalog.AssetsDir)

	ctx, cancel := signalContext()
	defer cancel()
	return gen.Run(ctx)
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		if err := config.SaveConfig(cfg); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, _ := config.LoadConfig()
	data, _ := json.MarshalIndent(cfg, "", "  ")
	fmt.Println(string(data))

	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set BOT_TOKEN and OPENROUTER_API_KEY (or edit the config file)")
	fmt.Println("  2. Run 'ratimint store', then 'ratimint listener' and 'ratimint responder'")
	return nil
}

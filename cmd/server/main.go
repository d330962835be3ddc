package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openquant/mmdash/internal/infrastructure/exchange"
	"github.com/openquant/mmdash/internal/infrastructure/logger"
	"github.com/openquant/mmdash/internal/infrastructure/pricefeed"
	"github.com/openquant/mmdash/internal/infrastructure/secrets"
	"github.com/openquant/mmdash/internal/infrastructure/storage"
	"github.com/openquant/mmdash/internal/usecase"
	"github.com/openquant/mmdash/internal/web"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Secrets struct {
		EncryptionKey string `yaml:"encryption_key"`
	} `yaml:"secrets"`
	PriceFeed struct {
		URL string `yaml:"url"`
	} `yaml:"price_feed"`
	Stream struct {
		Exchange string `yaml:"exchange"`
		Symbol   string `yaml:"symbol"`
	} `yaml:"stream"`
	Engine struct {
		FillCheckMs       int `yaml:"fill_check_ms"`
		RefreshIntervalMs int `yaml:"refresh_interval_ms"`
		ReplaceDelayMs    int `yaml:"replace_delay_ms"`
		CallTimeoutMs     int `yaml:"call_timeout_ms"`
		PlacementGapMs    int `yaml:"placement_gap_ms"`
	} `yaml:"engine"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	path := "config/config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	encKey := cfg.Secrets.EncryptionKey
	if env := os.Getenv("MMDASH_ENCRYPTION_KEY"); env != "" {
		encKey = env
	}
	if encKey == "" {
		log.Fatal("Encryption key is not configured")
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.Path, secrets.NewCipher(encKey))
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange Factory and Price Feed
	factory := exchange.NewFactory()
	feed := pricefeed.NewClient(cfg.PriceFeed.URL)

	// 5. Init Session Manager
	engineCfg := usecase.EngineConfig{
		FillCheckInterval: time.Duration(cfg.Engine.FillCheckMs) * time.Millisecond,
		RefreshInterval:   time.Duration(cfg.Engine.RefreshIntervalMs) * time.Millisecond,
		ReplaceDelay:      time.Duration(cfg.Engine.ReplaceDelayMs) * time.Millisecond,
		CallTimeout:       time.Duration(cfg.Engine.CallTimeoutMs) * time.Millisecond,
		PlacementSpacing:  time.Duration(cfg.Engine.PlacementGapMs) * time.Millisecond,
	}
	manager := usecase.NewSessionManager(store, store, store, store, factory, feed, engineCfg, log)

	// 6. Resume sessions interrupted by the last shutdown
	manager.ResumeActive(context.Background())

	// 7. Start Web Server
	srv := web.NewServer(cfg.Server.Port, manager, store, store, factory, feed,
		cfg.Stream.Exchange, cfg.Stream.Symbol, log)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("Web server failed", zap.Error(err))
		}
	}()

	// 8. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Web server shutdown failed", zap.Error(err))
	}
	manager.Shutdown(ctx, 20*time.Second)
	log.Info("Shutdown complete")
}

package main

import (
	"flag"
	"log"
	"os"

	"PCRPull/internal/di"
	"PCRPull/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}
	defer cleanup()

	log.Printf("env=%s store=%s retention=%dh kafka=%t redis=%t",
		cfg.Environment, cfg.Store.Path, cfg.Store.RetentionHours, cfg.Kafka.Enabled, cfg.Redis.Enabled)

	// blocks until signal
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		cleanup()
		os.Exit(1)
	}
}

package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"FinScan/internal/di"
	"FinScan/pkg/config"
	"FinScan/pkg/server"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Printf("env=%s mode=%s backend=%s watchlist=%d",
		cfg.Environment, cfg.Mode, cfg.Backend, len(cfg.Universe.Watchlist))

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if err := app.Run(); err != nil {
		if errors.Is(err, server.ErrPartial) {
			log.Printf("cycle finished degraded: %v", err)
			os.Exit(2)
		}
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"bazaar-radar/internal/api"
	"bazaar-radar/internal/config"
	"bazaar-radar/internal/db"
	"bazaar-radar/internal/feed"
	"bazaar-radar/internal/logger"
)

var version = "dev"

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	configPath := flag.String("config", "", "path to radar.yaml")
	flag.Parse()

	logger.Banner(version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Config", fmt.Sprintf("Load failed: %v", err))
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Port = *port
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open database: %v", err))
		os.Exit(1)
	}
	defer database.Close()

	feedClient := feed.NewClient(cfg.FeedBaseURL)
	if !feedClient.HealthCheck() {
		logger.Warn("Feed", "Upstream feed unreachable, will retry on refresh cycles")
	}

	srv := api.NewServer(cfg, feedClient, database)

	logger.Section("Configuration")
	logger.Stats("Feed", cfg.FeedBaseURL)
	logger.Stats("Refresh", cfg.RefreshInterval().String())
	logger.Stats("Indexes", len(cfg.Indexes))

	stop := make(chan struct{})
	defer close(stop)
	go srv.RunRefreshLoop(cfg.RefreshInterval(), stop)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	logger.Server(addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		logger.Error("Server", fmt.Sprintf("Failed: %v", err))
		os.Exit(1)
	}
}

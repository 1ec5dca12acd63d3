package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wfunc/gamesync/config"
	"github.com/wfunc/gamesync/logger"
	"github.com/wfunc/gamesync/monitor"
	"github.com/wfunc/gamesync/persistence"
	"github.com/wfunc/gamesync/server"
	"github.com/wfunc/gamesync/services"
)

func main() {
	logger.Init("info")

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.Log.Level)

	db, err := persistence.Open(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	if db != nil {
		defer db.Close()
		logger.Log.Infof("Database (%s) connection successful.", cfg.Database.Driver)
	}

	mon := monitor.NewMonitor("gamesync")
	metrics := mon.StartServer(cfg.Server.MetricsAddress)

	gameServer, err := server.NewGameServer(cfg.Server, mon, services.NewSessionService(db, logger.Log))
	if err != nil {
		logger.Log.Fatalf("Failed to create server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Log.Info("Shutting down.")
		gameServer.Shutdown(shutdownCtx)
		metrics.Shutdown(shutdownCtx)
	}()

	logger.Log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
	if err := gameServer.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}

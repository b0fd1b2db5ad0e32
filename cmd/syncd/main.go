package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fokuslabs/focusgate/internal/gateway"
	"github.com/fokuslabs/focusgate/internal/gateway/config"
	"github.com/fokuslabs/focusgate/internal/logging"
)

func main() {
	cfg := config.LoadConfig()
	logger := logging.NewJSON(os.Stdout).With("app", "syncd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigs
		cancel()
	}()

	var repo gateway.Repository
	if cfg.UseMemory {
		repo = gateway.NewMemoryRepository()
	} else {
		pg, err := gateway.NewPostgresRepository(cfg.DatabaseDSN)
		if err != nil {
			log.Printf("db init error: %v", err)
			return
		}
		defer pg.Close()
		repo = pg
	}

	auth := gateway.NewAuthenticator(repo, []byte(cfg.SecretKey), 24*time.Hour)
	srv := gateway.NewServer(cfg.EndpointAddr, repo, auth, logger)

	if err := srv.Run(ctx); err != nil {
		logger.Error(ctx, "gateway stopped with error", "error", err)
	}
}

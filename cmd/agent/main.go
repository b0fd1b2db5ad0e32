package main

import (
	"context"
	"log"

	"github.com/fokuslabs/focusgate/internal/agent"
	"github.com/fokuslabs/focusgate/internal/agent/config"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := agent.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)
}

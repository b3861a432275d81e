// Package main is the entrypoint for the Music Room chat service.
// It serves the room REST API and room WebSockets.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aelexs/musicroom/internal/config"
	"github.com/aelexs/musicroom/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:           "chat",
		PortFromConfig: func(cfg *config.Config) int { return cfg.Chat.HTTPPort },
		Setup:          setup,
	}, nil)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/kazz187/taskmux/internal/client"
	"github.com/kazz187/taskmux/internal/config"
	"github.com/kazz187/taskmux/internal/daemon"
	"github.com/kazz187/taskmux/internal/mcpserver"
	"github.com/kazz187/taskmux/pkg/clog"
)

func runServe(ctx context.Context) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(clog.NewHandler(os.Stderr, env.IsLocal(), env.SlogLevel())))

	d, err := daemon.New(ctx, env)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}

// runMCP logs to stderr; stdout carries the protocol.
func runMCP(ctx context.Context) error {
	if *workspace == "" {
		return fmt.Errorf("--workspace or TASKMUX_WORKSPACE_ID is required")
	}
	slog.SetDefault(slog.New(clog.NewHandler(os.Stderr, false, slog.LevelInfo)))
	s := mcpserver.New(newClient(), *workspace, version)
	return mcpserver.Run(ctx, s)
}

func runGenerateVAPIDKeys() error {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("failed to generate VAPID keys: %w", err)
	}
	fmt.Printf("TASKMUX_VAPID_PUBLIC_KEY=%s\nTASKMUX_VAPID_PRIVATE_KEY=%s\n", pub, priv)
	return nil
}

func newClient() *client.Client {
	var opts []client.Option
	if *apiKey != "" {
		opts = append(opts, client.WithAPIKey(*apiKey))
	}
	return client.New(*addr, opts...)
}

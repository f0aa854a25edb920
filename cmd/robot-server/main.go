// Command robot-server exposes a simulated robot arm over MCP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/shaharia-lab/robomcp/config"
	"github.com/shaharia-lab/robomcp/mcp"
	"github.com/shaharia-lab/robomcp/observability"
	"github.com/shaharia-lab/robomcp/robot"
)

const (
	serverName    = "robot-control"
	serverVersion = "0.1.0"
)

type runner interface {
	Run(ctx context.Context) error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "robot-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := observability.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	// stdout carries the protocol on the stdio transport
	logger, err := observability.NewLogger(cfg.LogBackend, level, os.Stderr)
	if err != nil {
		return err
	}

	registry := mcp.NewRegistry()
	if err := robot.Register(registry); err != nil {
		return fmt.Errorf("failed to register robot capabilities: %w", err)
	}

	lifecycle := mcp.NewLifecycle(robot.Lifespan(robot.Options{
		MaxPosition:  cfg.MaxPosition,
		StepInterval: cfg.StepInterval,
		Journal:      cfg.JournalConfig(),
		Logger:       logger,
	}), logger)

	clientLevel, err := mcp.ParseLogLevel(cfg.ClientLogLevel)
	if err != nil {
		return err
	}

	base, err := mcp.NewBaseServer(registry, lifecycle,
		mcp.UseLogger(logger),
		mcp.UseServerInfo(serverName, serverVersion),
		mcp.UseInstructions("Control a three joint robot arm. Read robot://status/summary before moving."),
		mcp.UseLogLevel(clientLevel),
		mcp.UseAddress(cfg.Addr),
		mcp.UseEndpointPath(cfg.Path),
		mcp.UseJSONResponse(cfg.JSONResponse),
		mcp.UseAllowedOrigins(cfg.AllowedOrigins...),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	var server runner
	switch cfg.Transport {
	case config.TransportStdio:
		server = mcp.NewStdIOServer(base, os.Stdin, os.Stdout)
	case config.TransportWebSocket:
		server = mcp.NewWebSocketServer(base)
	default:
		server = mcp.NewHTTPServer(base)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.WithFields(map[string]interface{}{
		"transport": cfg.Transport,
		"address":   cfg.Addr,
		"journal":   cfg.Journal,
	}).Info("Starting robot MCP server")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// stdio returns on EOF; stop the signal watcher too
		defer cancel()
		return server.Run(ctx)
	})
	g.Go(func() error {
		return watchSignals(ctx, cancel, logger)
	})
	if err := g.Wait(); err != nil {
		logger.WithErr(err).Error("Server stopped with error")
		return err
	}

	logger.Info("Server stopped")
	return nil
}

// watchSignals cancels the server on SIGINT or SIGTERM and returns when ctx
// is done.
func watchSignals(ctx context.Context, cancel context.CancelFunc, logger observability.Logger) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		logger.WithFields(map[string]interface{}{
			"signal": sig.String(),
		}).Info("Received signal, shutting down")
		cancel()
	case <-ctx.Done():
	}
	return nil
}

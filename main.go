package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// stdout belongs to the stdio transport; logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	// Create context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	conns, err := Connect(ctx, cfg.Firebird)
	if err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	logger.Info("connected", "database", cfg.Firebird.String())

	executor := NewQueryExecutor(conns)
	executor.Timeout = cfg.QueryTimeout
	executor.MaxRows = cfg.MaxRows
	executor.ReadOnly = cfg.ReadOnly

	server := NewMCPServer(ctx, conns, executor, logger)
	defer server.Close()

	if err := server.RegisterTableResources(ctx); err != nil {
		logger.Error("failed to register table resources", "error", err)
		os.Exit(1)
	}

	logger.Info("Firebird MCP server started", "transport", cfg.Transport, "read_only", cfg.ReadOnly)

	switch cfg.Transport {
	case TransportHTTP:
		err = NewHTTPTransport(server).Serve(ctx, cfg.ListenAddr())
	default:
		err = server.Run(os.Stdin, os.Stdout)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("server shutdown gracefully")
		} else {
			logger.Error("server error", "error", err)
			server.Close()
			os.Exit(1)
		}
	}
}

// Command courierd runs the courier upload daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"courier/internal/config"
	"courier/internal/daemon"
	"courier/internal/ipc"
	"courier/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "courierd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (defaults to ~/.config/courier/config.toml)")
	flag.Parse()

	cfg, resolvedPath, exists, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("no config file at %s (create one with 'courier config init')", resolvedPath)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	logger.Info("courierd starting", logging.Args(
		logging.String("config", resolvedPath),
	)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		return err
	}

	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(cancel)
	}

	ipcServer := ipc.NewServer(cfg.SocketPath(), d, shutdown, logger)
	if err := ipcServer.Start(); err != nil {
		d.Stop(context.Background())
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-signals:
		logger.Info("signal received, shutting down", logging.Args(logging.String("signal", sig.String()))...)
	case <-ctx.Done():
		logger.Info("stop requested, shutting down")
	}

	ipcServer.Stop()
	d.Stop(context.Background())
	return nil
}

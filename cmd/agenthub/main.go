package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agenthub/internal/adapter/fanout"
	"agenthub/internal/adapter/store"
	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
	"agenthub/internal/infra/logger"
	"agenthub/internal/usecase/dispatch"
	"agenthub/internal/usecase/eventbus"
	"agenthub/internal/usecase/toolproc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	var cfg *config.Config
	if _, err := os.Stat(*cfgPath); os.IsNotExist(err) {
		cfg = config.Default()
		if err := cfg.ApplyEnv(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	} else {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cfg = loaded
	}

	// 2. Logger
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 3. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 4. Session store
	var sessions domain.SessionStore
	switch cfg.Store.Driver {
	case "sqlite":
		db, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}
		defer db.Close()
		sessions = db
	default:
		sessions = store.NewMemory()
	}

	// 5. Tool processes
	tools := toolproc.NewManager(cfg.Breaker, bus, log)
	tools.Initialize(ctx, cfg.ToolProcesses)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		tools.Stop(stopCtx)
	}()

	// 6. Dispatcher
	registry := dispatch.NewRegistry(log)
	for _, spec := range cfg.Agents {
		if err := registry.Register(dispatch.FromSpec(spec)); err != nil {
			return fmt.Errorf("agents: %w", err)
		}
	}

	dispatcher := dispatch.NewManager(cfg.Dispatch, dispatch.Deps{
		Registry: registry,
		Router:   dispatch.NewRouter(log),
		Executor: dispatch.NewExecutor(nil),
		Tools:    tools,
		Store:    sessions,
		Bus:      bus,
		Logger:   log,
	})
	dispatcher.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Dispatch.ShutdownGrace.Std()+time.Second)
		defer stopCancel()
		dispatcher.Stop(stopCtx)
	}()

	// 7. Fanout
	hub := fanout.NewHub(bus, log)
	defer hub.Close()

	server := fanout.NewServer(hub, dispatcher, cfg.Gateway.Addr, log)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	log.Info("agenthub running", "addr", cfg.Gateway.Addr, "agents", len(registry.IDs()))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}
}

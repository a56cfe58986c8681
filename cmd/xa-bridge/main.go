package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"phobos.org.uk/xbridge/internal/adapter"
	"phobos.org.uk/xbridge/internal/config"
	"phobos.org.uk/xbridge/internal/history"
	"phobos.org.uk/xbridge/internal/kvstore"
	"phobos.org.uk/xbridge/internal/logging"
	"phobos.org.uk/xbridge/internal/metrics"
	"phobos.org.uk/xbridge/internal/server"
	"phobos.org.uk/xbridge/internal/xagent"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	bind := flag.String("bind", "", "Address to bind to (overrides config)")
	home := flag.String("xagent-home", "", "XAgent checkout (overrides config)")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}

	if *port > 0 {
		cfg.Port = *port
	}
	if *bind != "" {
		cfg.Bind = *bind
	}
	if *home != "" {
		cfg.XAgent.Home = *home
		cfg.XAgent.ConfigFile = ""
	}
	if level := os.Getenv("XBRIDGE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = string(logging.ParseLevel(level))
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.TokenHash == "" && cfg.Bind != "127.0.0.1" && cfg.Bind != "localhost" && cfg.Bind != "::1" {
		fmt.Fprintf(os.Stderr, "Warning: bridge bind=%q exposes unauthenticated endpoints. Set auth.token_hash or prefer 127.0.0.1.\n", cfg.Bind)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := logging.New(logging.Config{
		Output:    os.Stderr,
		Level:     logging.ParseLevel(cfg.LogLevel),
		Component: "bridge",
	}).With(map[string]any{"bridge": cfg.Name})

	hist, err := history.NewStore(cfg.HistoryDir)
	if err != nil {
		log.Warn("history disabled", map[string]any{"dir": cfg.HistoryDir, "error": err.Error()})
		hist = nil
	}

	storeOpts := cfg.StoreOptions()
	storeOpts.Logger = log
	store, err := kvstore.Open(storeOpts)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	x, err := xagent.New(cfg.XAgentSettings(), xagent.Deps{
		Logger:  log,
		History: hist,
		Metrics: metrics.New(reg),
		Status:  store,
	})
	if err != nil {
		return err
	}

	srv := server.New(cfg, version, server.Deps{
		Agent:    adapter.New(x, adapter.WithTools(x.Capabilities()...)),
		History:  hist,
		Logger:   log,
		Status:   store,
		Gatherer: reg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

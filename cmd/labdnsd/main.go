package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmhodges/clock"

	"github.com/labdns/labdnsd/internal/api"
	"github.com/labdns/labdnsd/internal/cache"
	"github.com/labdns/labdnsd/internal/config"
	"github.com/labdns/labdnsd/internal/eventbus"
	"github.com/labdns/labdnsd/internal/qlog"
	"github.com/labdns/labdnsd/internal/resolver"
	"github.com/labdns/labdnsd/internal/zone"
)

var (
	port          = flag.Int("port", 0, "UDP port to bind (default: OS-assigned)")
	iterativePort = flag.Int("iterative-port", 60053, "destination port for iterative queries")
	httpAddr      = flag.String("http", "", "HTTP stats listener address (disabled when empty)")
	traceDir      = flag.String("trace-dir", ".", "directory for per-query trace files")
	configPath    = flag.String("config", "", "optional YAML config file")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] <root_ip> <zone>\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  root_ip  dotted-quad IPv4 of the root name server seeding recursion\n")
	fmt.Fprintf(os.Stderr, "  zone     path to the authoritative zone file\n\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if flag.NArg() != 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// Flags set on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "iterative-port":
			cfg.IterativePort = *iterativePort
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "trace-dir":
			cfg.TraceDir = *traceDir
		}
	})
	cfg.RootIP = flag.Arg(0)
	cfg.ZoneFile = flag.Arg(1)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	clk := clock.New()

	zones, err := zone.Load(cfg.ZoneFile)
	if err != nil {
		return err
	}
	for _, problem := range zones.Validate() {
		logger.Warn("zone problem", "detail", problem)
	}
	logger.Info("zone loaded",
		"path", cfg.ZoneFile,
		"owners", len(zones.LocalNames()),
		"records", len(zones.AllRecords()))

	trace, err := qlog.NewSink(cfg.TraceDir, clk, logger)
	if err != nil {
		return err
	}
	defer trace.Close()

	bus := eventbus.New(64)
	recordCache := cache.New(clk)

	srv, err := resolver.New(resolver.Config{
		Port:          cfg.Port,
		RootAddr:      &net.UDPAddr{IP: net.ParseIP(cfg.RootIP), Port: cfg.IterativePort},
		IterativePort: cfg.IterativePort,
		RetryInterval: cfg.RetryInterval.Std(),
		MaxAttempts:   cfg.MaxAttempts,
		PollInterval:  cfg.PollInterval.Std(),
	}, resolver.Deps{
		Zones:  zones,
		Cache:  recordCache,
		Clock:  clk,
		Logger: logger,
		Trace:  trace,
		Bus:    bus,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.HTTPAddr != "" {
		apiSrv := api.New(ctx, cfg.HTTPAddr, api.Deps{
			Zones:  zones,
			Cache:  recordCache,
			Bus:    bus,
			Logger: logger,
		})
		go func() {
			if err := apiSrv.Serve(); err != nil {
				logger.Error("http api", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			apiSrv.Shutdown(shutdownCtx)
		}()
		logger.Info("http api listening", "addr", cfg.HTTPAddr)
	}

	logger.Info("dns server listening",
		"addr", srv.Addr(),
		"root", cfg.RootIP,
		"iterative_port", cfg.IterativePort)

	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info("dns server stopped")
	return nil
}

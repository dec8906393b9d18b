// Command threadpool-server serves a few static pages, handling every
// connection on a fixed-size threadpool.Pool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/damnever/threadpool"
	"github.com/damnever/threadpool/internal/config"
	"github.com/damnever/threadpool/internal/server"
	"github.com/damnever/threadpool/metrics"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "threadpool-server: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	pool, err := threadpool.New(cfg.Workers, threadpool.Options{Logger: logger})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector("", "connections", pool))
		go serveMetrics(ctx, logger, cfg.MetricsAddr, reg)
	}

	l, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	s := server.New(pool, server.Options{
		Root:           cfg.Root,
		SleepDelay:     time.Duration(cfg.SleepDelay),
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    time.Duration(cfg.ReadTimeout),
		Logger:         logger,
	})
	serveErr := s.Serve(ctx, l)

	// Connections already accepted are still served.
	logger.Info("shutting down", "queued", pool.Stats().Queued)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Duration(cfg.SleepDelay)+5*time.Second)
	defer waitCancel()
	return errors.Join(serveErr, pool.WaitDone(waitCtx))
}

func parseConfig(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("threadpool-server", flag.ContinueOnError)
	var (
		configFile  = fs.String("config", "", "config file path (YAML/JSON)")
		addr        = fs.String("addr", "", "address to listen on (default 127.0.0.1:7878)")
		workers     = fs.Int("workers", 0, "number of workers (default 4)")
		root        = fs.String("root", "", "directory containing hello.html and 404.html")
		metricsAddr = fs.String("metrics-addr", "", "address of the Prometheus endpoint, disabled if empty")
		logLevel    = fs.String("log-level", "", "debug, info, warn or error")
	)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadFile(*configFile); err != nil {
			return cfg, err
		}
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *workers != 0 {
		cfg.Workers = *workers
	}
	if *root != "" {
		cfg.Root = *root
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	return cfg, cfg.Validate()
}

func serveMetrics(ctx context.Context, logger *slog.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "err", err)
	}
}

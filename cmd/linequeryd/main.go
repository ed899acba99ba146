package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/config"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/server"
	"github.com/mohammed-shakir/spatial-line-query/internal/logger"
	"github.com/mohammed-shakir/spatial-line-query/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before reading the environment")
	addrFlag := flag.String("addr", "", "HTTP listen address (overrides ADDR)")
	flag.Parse()

	// .env never overrides variables already set
	envErr := godotenv.Load(*envFile)

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "spatial-line-query",
		Component: "linequeryd",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		appLog.Warn("env file not loaded", "path", *envFile, "err", envErr)
	}

	p, err := metrics.Init(metrics.Config{
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	if err != nil {
		appLog.Error("metrics init failed", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg, appLog, &zl)
	if err != nil {
		appLog.Error("service setup failed", "err", err)
		return 1
	}
	defer svc.Close()

	appLog.Info("starting line query service",
		"addr", cfg.Addr,
		"version", Version,
		"geoserver", cfg.GeoServerURL,
		"layers", len(cfg.FeatureLayers),
		"cache", cfg.Cache.Driver,
		"invalidation", cfg.Invalidation.Enabled,
		"query_events", cfg.QueryEvents.Enabled)

	svc.StartBackground(ctx)

	if err := server.Run(ctx, cfg.Addr, appLog, svc.Router(p.Handler())); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

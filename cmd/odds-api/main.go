// Package main provides the entry point for the odds API server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/keiba-odds/internal/api"
	"github.com/yourusername/keiba-odds/internal/app"
	"github.com/yourusername/keiba-odds/internal/config"
	"github.com/yourusername/keiba-odds/internal/logger"
	"github.com/yourusername/keiba-odds/internal/metrics"
	"github.com/yourusername/keiba-odds/internal/scheduler"
)

// Build information - set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := app.LoadConfig(ctx, *envFile, *configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logging
	appLog := logger.NewLogger(cfg.App.LogLevel)
	appLog.WithFields(logrus.Fields{
		"environment": cfg.App.Environment,
		"log_level":   cfg.App.LogLevel,
		"version":     Version,
		"commit":      GitCommit,
	}).Info("Keiba odds API starting")

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	components, err := app.Build(cfg, appLog)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize components")
	}
	defer func() {
		if err := components.Close(); err != nil {
			appLog.WithError(err).Error("Failed to close snapshot store")
		}
	}()

	// Background cache maintenance
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler(components.Service, cfg.Location(), appLog)
		if cfg.Scheduler.PruneCron != "" {
			if err := sched.SchedulePrune(cfg.Scheduler.PruneCron, cfg.Cache.RetentionDays); err != nil {
				appLog.WithError(err).Fatal("Failed to schedule cache prune")
			}
		}
		if cfg.Scheduler.PrefetchCron != "" {
			if err := sched.SchedulePrefetch(cfg.Scheduler.PrefetchCron); err != nil {
				appLog.WithError(err).Fatal("Failed to schedule race list prefetch")
			}
		}
		if len(sched.Entries()) == 0 {
			sched = nil
		} else if err := sched.Start(); err != nil {
			appLog.WithError(err).Fatal("Failed to start scheduler")
		}
	}

	server := api.NewServer(api.Config{
		ServiceName:          cfg.App.Name,
		Version:              Version,
		Host:                 cfg.Server.Host,
		Port:                 cfg.Server.Port,
		CORSOrigins:          cfg.Server.CORSOrigins,
		ReadTimeout:          seconds(cfg.Server.ReadTimeoutSeconds),
		WriteTimeout:         seconds(cfg.Server.WriteTimeoutSeconds),
		RequestTimeout:       seconds(cfg.Server.RequestTimeoutSeconds),
		UpdateInterval:       seconds(cfg.Server.UpdateIntervalSeconds),
		PingInterval:         seconds(cfg.Server.WSPingIntervalSeconds),
		PongTimeout:          seconds(cfg.Server.WSPongTimeoutSeconds),
		DefaultRetentionDays: cfg.Cache.RetentionDays,
		MetricsEnabled:       cfg.Metrics.Enabled,
		MetricsPath:          cfg.Metrics.Path,
		Logger:               appLog,
	}, components.Service)

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := server.Start(ctx); err != nil {
		appLog.WithError(err).Fatal("Failed to start API server")
	}
	appLog.WithField("address", cfg.ListenAddress()).Info("Keiba odds API is running")

	// Wait for shutdown signal
	sig := <-sigChan
	appLog.WithField("signal", sig).Info("Shutdown signal received")

	if sched != nil {
		if err := sched.Stop(); err != nil {
			appLog.WithError(err).Error("Error stopping scheduler")
		}
	}
	if err := server.Shutdown(); err != nil {
		appLog.WithError(err).Error("Error during API server shutdown")
	}
	cancel()

	appLog.Info("Keiba odds API shut down successfully")
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

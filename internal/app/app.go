// Package app wires configured components into a running odds service.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/keiba-odds/internal/config"
	"github.com/yourusername/keiba-odds/internal/datasource"
	"github.com/yourusername/keiba-odds/internal/historical"
	"github.com/yourusername/keiba-odds/internal/mock"
	"github.com/yourusername/keiba-odds/internal/reconstruct"
	"github.com/yourusername/keiba-odds/internal/service"
	"github.com/yourusername/keiba-odds/internal/store"
)

// App holds every long-lived component. Close releases them.
type App struct {
	Config     *config.Config
	Store      *store.Store
	Fetcher    datasource.Fetcher
	Historical *historical.Provider
	Mock       *mock.Provider
	Service    *service.DataService
	Logger     *logrus.Logger
}

// Build constructs the store, sources and data service from cfg.
func Build(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	loc := cfg.Location()

	st, err := store.New(store.Options{
		RootDir:  cfg.Cache.RootDir,
		Location: loc,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	fetcher, err := datasource.NewFromConfig(cfg, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create live feed client: %w", err)
	}

	recon := reconstruct.New(reconstruct.Config{
		BaseVolatility:    cfg.Simulation.BaseVolatility,
		MaxVolatility:     cfg.Simulation.MaxVolatility,
		SaturationSeconds: cfg.Simulation.SaturationSeconds,
		MinWinOdds:        cfg.Simulation.MinWinOdds,
		MinPlaceOdds:      cfg.Simulation.MinPlaceOdds,
		Seed:              cfg.Simulation.Seed,
	})

	hist := historical.New(st, fetcher, recon, historical.Config{
		MarginSeconds: cfg.Deadline.MarginSeconds,
		AutoFetch:     cfg.Cache.AutoFetch,
		FetchTimeout:  cfg.FetchTimeout(),
		Location:      loc,
	}, logger)

	var mockProvider *mock.Provider
	if cfg.Sources.AllowMockFallback {
		mockProvider, err = mock.New(cfg.Sources.MockDataFile, loc, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	defaultSource, err := service.ParseSource(cfg.Sources.Default)
	if err != nil {
		st.Close()
		return nil, err
	}

	svc := service.NewDataService(st, hist, fetcher, mockProvider, service.Options{
		Environment:       cfg.App.Environment,
		DefaultSource:     defaultSource,
		AllowMockFallback: cfg.Sources.AllowMockFallback,
		RecordLive:        cfg.Sources.RecordLive,
		MarginSeconds:     cfg.Deadline.MarginSeconds,
	}, logger)

	logger.WithFields(logrus.Fields{
		"cache_root":     cfg.Cache.RootDir,
		"default_source": defaultSource.String(),
		"live_feed":      fetcher != nil,
		"auto_fetch":     hist.AutoFetchEnabled(),
		"mock_fallback":  mockProvider != nil,
	}).Info("Odds service components initialized")

	return &App{
		Config:     cfg,
		Store:      st,
		Fetcher:    fetcher,
		Historical: hist,
		Mock:       mockProvider,
		Service:    svc,
		Logger:     logger,
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// LoadConfig loads .env, the config file and the optional secrets overlay.
func LoadConfig(ctx context.Context, envFile, configPath string) (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadWithDefaults(configPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := config.LoadSecretsFromAWS(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}
	if cfg.Secrets.Enabled {
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

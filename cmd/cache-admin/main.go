// Package main provides an operator CLI for the odds snapshot cache.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/keiba-odds/internal/app"
	"github.com/yourusername/keiba-odds/internal/config"
	applogger "github.com/yourusername/keiba-odds/internal/logger"
	"github.com/yourusername/keiba-odds/internal/models"
	"github.com/yourusername/keiba-odds/internal/service"
)

var (
	configFile string
	envFile    string
	days       int
	date       string
	raceKey    string
	before     string
	source     string
	logger     *logrus.Logger
	components *app.App
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultConfigPath, "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to .env file")

	pruneCmd.Flags().IntVarP(&days, "days", "d", -1, "Remove entries older than this many days (default: cache.retention_days)")
	listCmd.Flags().StringVar(&date, "date", "", "Race date (YYYYMMDD), defaults to today")
	fetchCmd.Flags().StringVarP(&raceKey, "race", "r", "", "Race key to refresh from the live feed")
	oddsCmd.Flags().StringVarP(&raceKey, "race", "r", "", "Race key")
	oddsCmd.Flags().StringVar(&before, "before", "", "Seconds before the deadline")
	oddsCmd.Flags().StringVar(&source, "source", "", "Data source: auto, live or historical (default: sources.default)")
	_ = fetchCmd.MarkFlagRequired("race")
	_ = oddsCmd.MarkFlagRequired("race")
}

var rootCmd = &cobra.Command{
	Use:   "cache-admin",
	Short: "Inspect and maintain the odds snapshot cache",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := app.LoadConfig(ctx, envFile, configFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger = applogger.NewLogger(cfg.App.LogLevel)
		components, err = app.Build(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to setup dependencies: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if components == nil {
			return nil
		}
		return components.Close()
	},
	SilenceUsage: true,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove cached races older than a retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		n := days
		if n < 0 {
			n = components.Config.Cache.RetentionDays
		}
		result, err := components.Service.PruneCache(cmd.Context(), n)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached race and race list",
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := components.Service.ClearCache(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d cache entries\n", removed)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache totals and configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(components.Service.Status())
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List races for a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		d := date
		if d == "" {
			d = time.Now().In(components.Config.Location()).Format(models.DateLayout)
		}
		env, err := components.Service.GetRaceList(cmd.Context(), d, service.SourceDefault)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d races (%s)\n", env.Date, env.Count, env.DataSource)
		for _, r := range env.Races {
			fmt.Printf("  %s  R%02d  %s  %s\n", r.RaceKey, r.RaceNumber, r.PostTime.Format("15:04"), r.Name)
		}
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Refresh one race from the live feed into the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := models.ParseRaceKey(raceKey)
		if err != nil {
			return err
		}
		if err := components.Service.RefreshRace(cmd.Context(), key); err != nil {
			return err
		}
		logger.WithField("race_key", key.String()).Info("Race refreshed")
		return nil
	},
}

var oddsCmd = &cobra.Command{
	Use:   "odds",
	Short: "Print the odds envelope for a race",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := models.ParseRaceKey(raceKey)
		if err != nil {
			return err
		}
		src, err := service.ParseSource(source)
		if err != nil {
			return err
		}
		var horizon *int
		if before != "" {
			h, err := strconv.Atoi(before)
			if err != nil {
				return fmt.Errorf("--before: %w", models.ErrInvalidHorizon)
			}
			horizon = &h
		}
		env, err := components.Service.GetOdds(cmd.Context(), key, src, horizon)
		if err != nil {
			return err
		}
		return printJSON(env)
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	rootCmd.AddCommand(pruneCmd, clearCmd, statsCmd, listCmd, fetchCmd, oddsCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

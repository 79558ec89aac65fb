package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/casaops/harvester/internal/config"
	"github.com/casaops/harvester/internal/dedup"
	"github.com/casaops/harvester/internal/geocode"
	"github.com/casaops/harvester/internal/harvest"
	"github.com/casaops/harvester/internal/logger"
	"github.com/casaops/harvester/internal/metrics"
	"github.com/casaops/harvester/internal/report"
)

func harvestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Run the full crawl-and-normalize pipeline",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, log, err := loadRun()
			if err != nil {
				return err
			}
			return runHarvest(cfg, log)
		},
	}
}

func runHarvest(cfg *config.RunConfig, log logger.Interface) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The external runner enforces the wall-clock cap; mirroring it on
	// the context lets in-flight work wind down before a hard kill.
	ctx, cancel := context.WithTimeout(ctx, cfg.TimeBudget)
	defer cancel()

	store, closeStore, err := buildStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	enricher, closeCache := buildEnricher(cfg, log)
	defer closeCache()

	runner, err := harvest.NewRunner(cfg, harvest.Options{
		Store:    store,
		Enricher: enricher,
		Metrics:  metrics.New(),
	}, log)
	if err != nil {
		return err
	}

	run, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	report.NewTableRenderer(os.Stdout).Render(run)

	// Per-site failures are already in the report; the process itself
	// still succeeds.
	return nil
}

// buildStore picks the aggregate store per configuration.
func buildStore(cfg *config.RunConfig, log logger.Interface) (dedup.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info("using in-memory aggregate store")
		return dedup.NewMemoryStore(), func() {}, nil
	}

	db, err := dedup.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open aggregate store: %w", err)
	}
	return dedup.NewPostgresStore(db), func() { _ = db.Close() }, nil
}

// buildEnricher assembles the geocode enrichment stack. With no provider
// configured the enricher is nil and lookups are skipped.
func buildEnricher(cfg *config.RunConfig, log logger.Interface) (*geocode.Enricher, func()) {
	if !cfg.Geocode {
		return nil, func() {}
	}

	provider := geocodeProvider()
	if provider == nil {
		log.Warn("geocoding enabled but no provider is configured, skipping enrichment")
		return nil, func() {}
	}

	var cache geocode.Cache = geocode.NewMemoryCache()
	closeCache := func() {}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		cache = geocode.NewRedisCache(client, 0)
		closeCache = func() { _ = client.Close() }
	}

	enricher := geocode.NewEnricher(provider, cache, geocode.Options{
		CallsPerSecond: cfg.GeocodeCallsPerSecond,
		MaxCalls:       cfg.GeocodeMaxCalls,
	}, log)
	return enricher, closeCache
}

// geocodeProvider returns the injected geocoding backend. Provider
// wiring lives outside the pipeline; deployments that want enrichment
// register one here.
var geocodeProvider = func() geocode.Geocoder { return nil }

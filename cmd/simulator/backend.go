package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"shuttle-simulator/internal/config"
	"shuttle-simulator/internal/db"
	"shuttle-simulator/internal/mongostore"
	"shuttle-simulator/internal/shuttle"
	"shuttle-simulator/internal/sim"
	"shuttle-simulator/internal/store"
)

// backend is a store with the administrative operations used by the CLI.
type backend interface {
	store.Store
	SeedRoute(ctx context.Context, r shuttle.Route, stops []shuttle.Stop) error
	AddReservation(ctx context.Context, r shuttle.Reservation) error
}

// openBackend connects the configured store. migrate prepares the schema
// (tables for PostgreSQL, indexes for MongoDB).
func openBackend(ctx context.Context, cfg *config.Config, migrate bool) (backend, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		ms, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.Location)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := ms.Close(context.Background()); err != nil {
				log.Warn().Err(err).Msg("mongodb disconnect")
			}
		}
		if migrate {
			if err := ms.EnsureIndexes(ctx); err != nil {
				closeFn()
				return nil, nil, err
			}
		}
		log.Info().Str("database", cfg.MongoDatabase).Msg("using mongodb store")
		return ms, closeFn, nil

	case config.BackendPostgres:
		dsn := cfg.DatabaseURL
		if cfg.DatabaseName != "" {
			var err error
			if dsn, err = db.WithDBName(dsn, cfg.DatabaseName); err != nil {
				return nil, nil, fmt.Errorf("compose DSN: %w", err)
			}
		}
		sqlDB, err := db.Open(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("db open: %w", err)
		}
		if err := db.Ping(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("db ping: %w", err)
		}
		if migrate {
			if err := db.Migrate(ctx, sqlDB); err != nil {
				sqlDB.Close()
				return nil, nil, err
			}
		}
		pg := db.New(sqlDB, cfg.Location)
		closeFn := func() {
			if err := pg.Close(); err != nil {
				log.Warn().Err(err).Msg("postgres close")
			}
		}
		log.Info().Msg("using postgres store")
		return pg, closeFn, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func retryPolicy(cfg *config.Config) store.RetryPolicy {
	p := store.DefaultRetryPolicy
	p.MaxRetries = uint64(cfg.StoreRetryMax)
	return p
}

func routeSources(routes []config.RouteData) []sim.RouteSource {
	out := make([]sim.RouteSource, 0, len(routes))
	for _, r := range routes {
		out = append(out, sim.RouteSource{RouteID: r.RouteID, Travel: r.Travel, Rates: r.Rates})
	}
	return out
}

func engineParams(cfg *config.Config) sim.Params {
	return sim.Params{
		Capacity:          cfg.SeatCapacity,
		CompletedDwell:    cfg.CompletedDwell,
		MaxDepartureWait:  cfg.MaxDepartureWait,
		MaxBoardingDwell:  cfg.MaxBoardingDwell,
		BoardingRateScale: cfg.BoardingRateScale,
	}
}

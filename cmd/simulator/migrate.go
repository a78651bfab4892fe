package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var seedRoutes bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables or indexes, optionally seeding routes and stops from the routes file",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&seedRoutes, "seed", false, "upsert routes and stops listed in the routes file")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, routes, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	be, closeBackend, err := openBackend(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer closeBackend()
	log.Info().Str("backend", cfg.StoreBackend).Msg("schema ready")

	if !seedRoutes {
		return nil
	}
	seeded := 0
	for _, r := range routes {
		if r.Route == nil {
			log.Warn().Str("route", r.RouteID).Msg("no stops in routes file; not seeded")
			continue
		}
		if err := be.SeedRoute(ctx, *r.Route, r.Stops); err != nil {
			return err
		}
		seeded++
		log.Info().Str("route", r.RouteID).Int("stops", len(r.Stops)).Msg("route seeded")
	}
	log.Info().Int("routes", seeded).Msg("seed complete")
	return nil
}

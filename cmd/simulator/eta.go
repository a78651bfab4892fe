package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shuttle-simulator/internal/sim"
	"shuttle-simulator/internal/store"
)

var (
	etaRoute string
	etaStop  int
)

var etaCmd = &cobra.Command{
	Use:   "eta",
	Short: "Print the next arrival at a stop of a route",
	RunE:  runETA,
}

func init() {
	etaCmd.Flags().StringVar(&etaRoute, "route", "", "route id")
	etaCmd.Flags().IntVar(&etaStop, "stop", 1, "stop index along the route (0 is the origin)")
	_ = etaCmd.MarkFlagRequired("route")
	rootCmd.AddCommand(etaCmd)
}

func runETA(cmd *cobra.Command, args []string) error {
	cfg, routes, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	be, closeBackend, err := openBackend(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeBackend()

	st := store.WithRetry(be, retryPolicy(cfg))
	engine := sim.NewEngine(st, cfg.Location, engineParams(cfg), nil)
	mgr := sim.NewManager(st, engine, nil, routeSources(routes), cfg.TickInterval, cfg.Location, nil)

	now := time.Now().In(cfg.Location)
	a, err := mgr.NextArrival(ctx, etaRoute, etaStop, now)
	if err != nil {
		return fmt.Errorf("eta %s stop %d: %w", etaRoute, etaStop, err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s stop %d: shift %s at %s (in %s)\n",
		etaRoute, etaStop, a.ShiftID, a.Arrival.Format("15:04:05"), a.Arrival.Sub(now).Round(time.Second))
	return err
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"shuttle-simulator/internal/config"
	"shuttle-simulator/internal/metrics"
	"shuttle-simulator/internal/publisher"
	"shuttle-simulator/internal/shuttle"
	"shuttle-simulator/internal/sim"
	"shuttle-simulator/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulation loop for every configured route",
	RunE:  runSimulator,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runSimulator(cmd *cobra.Command, args []string) error {
	cfg, routes, err := setup()
	if err != nil {
		return err
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	be, closeBackend, err := openBackend(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeBackend()

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.TickInterval, cfg.BoardingRateScale)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	st := store.WithRetry(be, retryPolicy(cfg))
	st.OnRetry = func(op string, err error) {
		if mcol != nil {
			mcol.StoreRetries.WithLabelValues(op).Inc()
		}
	}

	checkRoutes(ctx, st, routes)

	var pm publisher.PublisherMetrics
	if mcol != nil {
		pm = mcol.Publisher()
	}
	np, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, pm)
	if err != nil {
		return err
	}
	defer np.Close()

	engine := sim.NewEngine(st, cfg.Location, engineParams(cfg), nil)
	mgr := sim.NewManager(st, engine, np, routeSources(routes), cfg.TickInterval, cfg.Location, mcol)
	mgr.Start(ctx)
	log.Info().
		Strs("routes", config.RouteIDs(routes)).
		Dur("tick", cfg.TickInterval).
		Str("tz", cfg.Location.String()).
		Msg("simulator started")

	<-ctx.Done()
	mgr.Stop()
	log.Info().Msg("shutdown complete")
	return nil
}

// checkRoutes warns about configured routes the store cannot serve yet.
// Their ticks fail until the route is seeded.
func checkRoutes(ctx context.Context, st store.Store, routes []config.RouteData) {
	for _, r := range routes {
		route, err := st.Route(ctx, r.RouteID)
		if errors.Is(err, shuttle.ErrNotFound) {
			log.Warn().Str("route", r.RouteID).Msg("route not in store; run `simulator migrate --seed`")
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("route", r.RouteID).Msg("route lookup")
			continue
		}
		if err := route.Validate(); err != nil {
			log.Warn().Err(err).Str("route", r.RouteID).Msg("route invalid")
		}
	}
}

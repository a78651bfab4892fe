package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"shuttle-simulator/internal/config"
	"shuttle-simulator/internal/logging"
)

var routesPath string

var rootCmd = &cobra.Command{
	Use:           "simulator",
	Short:         "Shuttle fleet simulator and ETA engine",
	RunE:          runSimulator,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&routesPath, "routes", "", "routes file (overrides ROUTES_FILE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("simulator failed")
		os.Exit(1)
	}
}

// setup loads the environment config and the routes file and configures
// logging. Every subcommand starts here.
func setup() (*config.Config, []config.RouteData, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := logging.Setup(cfg.AppEnv, cfg.LogLevel); err != nil {
		return nil, nil, err
	}
	if routesPath != "" {
		cfg.RoutesFile = routesPath
	}
	routes, err := config.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range routes {
		if missing := r.MissingHours(); len(missing) > 0 {
			log.Warn().Str("route", r.RouteID).Ints("hours", missing).Msg("travel times missing for some hours")
		}
	}
	return cfg, routes, nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"shuttle-simulator/internal/shuttle"
)

var (
	reserveRoute string
	reserveStop  string
	reserveSeats int
	reserveAt    string
)

var reserveCmd = &cobra.Command{
	Use:   "reserve",
	Short: "Add a pending reservation for a pickup stop",
	RunE:  runReserve,
}

func init() {
	reserveCmd.Flags().StringVar(&reserveRoute, "route", "", "route id")
	reserveCmd.Flags().StringVar(&reserveStop, "stop", "", "pickup stop id")
	reserveCmd.Flags().IntVar(&reserveSeats, "seats", 1, "seats requested")
	reserveCmd.Flags().StringVar(&reserveAt, "at", "", "reserved time, RFC 3339 (default now)")
	_ = reserveCmd.MarkFlagRequired("route")
	_ = reserveCmd.MarkFlagRequired("stop")
	rootCmd.AddCommand(reserveCmd)
}

func runReserve(cmd *cobra.Command, args []string) error {
	if reserveSeats <= 0 {
		return fmt.Errorf("seats must be positive, got %d", reserveSeats)
	}
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	at := time.Now().In(cfg.Location)
	if reserveAt != "" {
		if at, err = shuttle.ParseTime(reserveAt, cfg.Location); err != nil {
			return err
		}
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

	r := shuttle.Reservation{
		ReservationID: "RES-" + uuid.NewString(),
		RouteID:       reserveRoute,
		PickupStopID:  reserveStop,
		Seats:         reserveSeats,
		ReservedTime:  at,
		Status:        shuttle.ReservationReserved,
	}
	if err := be.AddReservation(ctx, r); err != nil {
		return err
	}
	log.Info().Str("reservation", r.ReservationID).Str("route", r.RouteID).Str("stop", r.PickupStopID).Int("seats", r.Seats).Msg("reservation added")
	_, err = fmt.Fprintln(cmd.OutOrStdout(), r.ReservationID)
	return err
}

package sim

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"shuttle-simulator/internal/shuttle"
)

// Assignment binds one reservation to a shift.
type Assignment struct {
	ReservationID string `json:"reservationId"`
	StopID        string `json:"stopId"`
	Seats         int    `json:"seats"`
}

// Assign walks the stops ahead of sh in route order and binds pending
// reservations first-fit while seats remain. A reservation is a candidate at
// a stop when it was made for a time at or after the shift's ETA there.
// Candidates are taken oldest reservation first. Stops whose ETA cannot be
// computed are skipped. The store is only read.
func (e *Engine) Assign(ctx context.Context, rc *RouteContext, sh shuttle.Shift, now time.Time) ([]Assignment, int, error) {
	remaining := max(sh.AvailableSeats, 0)
	var out []Assignment
	for idx := sh.Progress + 1; idx < rc.StopCount() && remaining > 0; idx++ {
		stop := rc.Stops[idx]
		eta, err := e.ETA(rc, sh, idx, now)
		if err != nil {
			log.Debug().Err(err).Str("route", rc.Route.RouteID).Str("stop", stop.StopID).Msg("skip stop: no eta")
			continue
		}
		cands, err := e.store.PendingReservations(ctx, rc.Route.RouteID, stop.StopID, eta)
		if err != nil {
			if shuttle.Skippable(err) {
				log.Warn().Err(err).Str("route", rc.Route.RouteID).Str("stop", stop.StopID).Msg("skip stop: reservations")
				continue
			}
			return nil, max(sh.AvailableSeats, 0), err
		}
		sortReservations(cands)
		for _, r := range cands {
			if remaining <= 0 {
				break
			}
			if r.Seats <= 0 || r.Seats > remaining {
				continue
			}
			out = append(out, Assignment{ReservationID: r.ReservationID, StopID: stop.StopID, Seats: r.Seats})
			remaining -= r.Seats
		}
	}
	return out, remaining, nil
}

func sortReservations(rs []shuttle.Reservation) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].ReservedTime.Equal(rs[j].ReservedTime) {
			return rs[i].ReservedTime.Before(rs[j].ReservedTime)
		}
		return rs[i].ReservationID < rs[j].ReservationID
	})
}

package db

import (
	"context"
	"database/sql"
	"fmt"

	"shuttle-simulator/internal/shuttle"
)

const schema = `
CREATE TABLE IF NOT EXISTS route (
  route_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS stop (
  stop_id   TEXT PRIMARY KEY,
  name      TEXT NOT NULL DEFAULT '',
  latitude  DOUBLE PRECISION,
  longitude DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS route_stop (
  route_id   TEXT NOT NULL REFERENCES route(route_id) ON DELETE CASCADE,
  stop_id    TEXT NOT NULL REFERENCES stop(stop_id),
  stop_order INTEGER NOT NULL,
  arrivals   JSONB NOT NULL DEFAULT '[]',
  PRIMARY KEY (route_id, stop_id)
);

CREATE TABLE IF NOT EXISTS shift (
  seq             BIGSERIAL,
  shift_id        TEXT PRIMARY KEY,
  route_id        TEXT NOT NULL,
  progress        INTEGER NOT NULL DEFAULT 0,
  latitude        DOUBLE PRECISION NOT NULL DEFAULT 0,
  longitude       DOUBLE PRECISION NOT NULL DEFAULT 0,
  available_seats INTEGER NOT NULL,
  reservation_ids JSONB NOT NULL DEFAULT '[]',
  start_time      TEXT NOT NULL,
  arrival_time    TEXT,
  minibus_id      TEXT NOT NULL DEFAULT '',
  trip_id         TEXT NOT NULL DEFAULT '',
  status          TEXT NOT NULL,
  version         BIGINT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS shift_route_idx ON shift (route_id, progress);

CREATE TABLE IF NOT EXISTS reservation (
  seq            BIGSERIAL,
  reservation_id TEXT PRIMARY KEY,
  route_id       TEXT NOT NULL,
  pickup_stop_id TEXT NOT NULL,
  seats          INTEGER NOT NULL,
  reserved_time  TEXT NOT NULL,
  status         TEXT NOT NULL DEFAULT 'reserved',
  shift_id       TEXT
);
CREATE INDEX IF NOT EXISTS reservation_pickup_idx ON reservation (route_id, pickup_stop_id, status);
`

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SeedRoute upserts a route, its stops and their order.
func (s *Store) SeedRoute(ctx context.Context, r shuttle.Route, stops []shuttle.Stop) error {
	if err := r.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("seed begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO route (route_id) VALUES ($1) ON CONFLICT DO NOTHING`, r.RouteID); err != nil {
		return wrap("seed route", err)
	}
	for _, st := range stops {
		_, err := tx.ExecContext(ctx, `
INSERT INTO stop (stop_id, name, latitude, longitude) VALUES ($1, $2, $3, $4)
ON CONFLICT (stop_id) DO UPDATE SET name = EXCLUDED.name, latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude`,
			st.StopID, st.Name, st.Latitude, st.Longitude)
		if err != nil {
			return wrap("seed stop", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM route_stop WHERE route_id = $1`, r.RouteID); err != nil {
		return wrap("seed route stops", err)
	}
	for _, rs := range r.Stops {
		if _, err := tx.ExecContext(ctx, `INSERT INTO route_stop (route_id, stop_id, stop_order) VALUES ($1, $2, $3)`, r.RouteID, rs.StopID, rs.Order); err != nil {
			return wrap("seed route stop", err)
		}
	}
	return wrap("seed commit", tx.Commit())
}

// AddReservation inserts a pending reservation.
func (s *Store) AddReservation(ctx context.Context, r shuttle.Reservation) error {
	status := r.Status
	if status == "" {
		status = shuttle.ReservationReserved
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO reservation (reservation_id, route_id, pickup_stop_id, seats, reserved_time, status, shift_id)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		r.ReservationID, r.RouteID, r.PickupStopID, r.Seats, shuttle.FormatTime(r.ReservedTime), string(status), r.ShiftID)
	return wrap("insert reservation", err)
}

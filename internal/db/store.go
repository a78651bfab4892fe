package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"shuttle-simulator/internal/shuttle"
	"shuttle-simulator/internal/store"
)

var _ store.Store = (*Store)(nil)

const shiftColumns = `shift_id, route_id, progress, latitude, longitude, available_seats,
reservation_ids::text, start_time, arrival_time, minibus_id, trip_id, status, version`

func (s *Store) Route(ctx context.Context, routeID string) (shuttle.Route, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM route WHERE route_id = $1)`, routeID).Scan(&exists); err != nil {
		return shuttle.Route{}, wrap("query route", err)
	}
	if !exists {
		return shuttle.Route{}, fmt.Errorf("route %s: %w", routeID, shuttle.ErrNotFound)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT stop_id, stop_order FROM route_stop WHERE route_id = $1 ORDER BY stop_order`, routeID)
	if err != nil {
		return shuttle.Route{}, wrap("query route stops", err)
	}
	defer rows.Close()
	r := shuttle.Route{RouteID: routeID}
	for rows.Next() {
		var rs shuttle.RouteStop
		if err := rows.Scan(&rs.StopID, &rs.Order); err != nil {
			return shuttle.Route{}, wrap("scan route stop", err)
		}
		r.Stops = append(r.Stops, rs)
	}
	return r, wrap("route stops", rows.Err())
}

func (s *Store) Stops(ctx context.Context, stopIDs []string) ([]shuttle.Stop, error) {
	if len(stopIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT stop_id, name, latitude, longitude FROM stop WHERE stop_id = ANY($1)`, stopIDs)
	if err != nil {
		return nil, wrap("query stops", err)
	}
	defer rows.Close()
	byID := make(map[string]shuttle.Stop, len(stopIDs))
	for rows.Next() {
		var st shuttle.Stop
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&st.StopID, &st.Name, &lat, &lon); err != nil {
			return nil, wrap("scan stop", err)
		}
		st.Latitude, st.Longitude = lat.Float64, lon.Float64
		byID[st.StopID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("stops", err)
	}
	out := make([]shuttle.Stop, 0, len(byID))
	for _, id := range stopIDs {
		if st, ok := byID[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) Shifts(ctx context.Context, routeID string) ([]shuttle.Shift, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+shiftColumns+` FROM shift WHERE route_id = $1 ORDER BY seq`, routeID)
	if err != nil {
		return nil, wrap("query shifts", err)
	}
	defer rows.Close()
	var out []shuttle.Shift
	for rows.Next() {
		sh, err := s.scanShift(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, wrap("shifts", rows.Err())
}

func (s *Store) WaitingShift(ctx context.Context, routeID string) (shuttle.Shift, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shift
WHERE route_id = $1 AND progress = 0 AND arrival_time IS NULL ORDER BY seq LIMIT 1`, routeID)
	sh, err := s.scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return shuttle.Shift{}, fmt.Errorf("waiting shift on %s: %w", routeID, shuttle.ErrNotFound)
	}
	return sh, err
}

func (s *Store) LeadingShift(ctx context.Context, routeID string, stopIndex int) (shuttle.Shift, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shift
WHERE route_id = $1 AND progress < $2 ORDER BY progress DESC, seq LIMIT 1`, routeID, stopIndex)
	sh, err := s.scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return shuttle.Shift{}, fmt.Errorf("shift before stop %d on %s: %w", stopIndex, routeID, shuttle.ErrNotFound)
	}
	return sh, err
}

func (s *Store) InsertShift(ctx context.Context, sh shuttle.Shift) error {
	ids, err := encodeIDs(sh.ReservationIDs)
	if err != nil {
		return err
	}
	version := sh.Version
	if version == 0 {
		version = shuttle.InitialVersion
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO shift (shift_id, route_id, progress, latitude, longitude, available_seats, reservation_ids,
                   start_time, arrival_time, minibus_id, trip_id, status, version)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12, $13)`,
		sh.ShiftID, sh.RouteID, sh.Progress, sh.Latitude, sh.Longitude, sh.AvailableSeats, ids,
		shuttle.FormatTime(sh.StartTime), optionalTime(sh.ArrivalTime), sh.MinibusID, sh.TripID, string(sh.Status), version)
	return wrap("insert shift", err)
}

func (s *Store) UpdateShift(ctx context.Context, shiftID string, u store.ShiftUpdate) error {
	q, args, err := updateShiftSQL(shiftID, u)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return wrap("update shift", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("update shift", err)
	}
	if n > 0 {
		return nil
	}
	var version int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM shift WHERE shift_id = $1`, shiftID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("shift %s: %w", shiftID, shuttle.ErrNotFound)
	}
	if err != nil {
		return wrap("shift version", err)
	}
	return fmt.Errorf("shift %s at version %d, expected %d: %w", shiftID, version, u.ExpectedVersion, shuttle.ErrConflict)
}

func (s *Store) DeleteShift(ctx context.Context, shiftID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM shift WHERE shift_id = $1`, shiftID)
	if err != nil {
		return wrap("delete shift", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("shift %s: %w", shiftID, shuttle.ErrNotFound)
	}
	return nil
}

// PendingReservations filters on reserved_time in Go since the column holds
// text with arbitrary offsets.
func (s *Store) PendingReservations(ctx context.Context, routeID, stopID string, notBefore time.Time) ([]shuttle.Reservation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT reservation_id, route_id, pickup_stop_id, seats, reserved_time, status, COALESCE(shift_id, '')
FROM reservation WHERE route_id = $1 AND pickup_stop_id = $2 AND status = $3 ORDER BY seq`,
		routeID, stopID, string(shuttle.ReservationReserved))
	if err != nil {
		return nil, wrap("query reservations", err)
	}
	defer rows.Close()
	var out []shuttle.Reservation
	for rows.Next() {
		var r shuttle.Reservation
		var reserved, status string
		if err := rows.Scan(&r.ReservationID, &r.RouteID, &r.PickupStopID, &r.Seats, &reserved, &status, &r.ShiftID); err != nil {
			return nil, wrap("scan reservation", err)
		}
		if r.ReservedTime, err = shuttle.ParseTime(reserved, s.loc); err != nil {
			return nil, fmt.Errorf("reservation %s: %w", r.ReservationID, err)
		}
		r.Status = shuttle.ReservationStatus(status)
		if !r.ReservedTime.Before(notBefore) {
			out = append(out, r)
		}
	}
	return out, wrap("reservations", rows.Err())
}

func (s *Store) AssignReservations(ctx context.Context, shiftID string, reservationIDs []string) error {
	if len(reservationIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE reservation SET status = $1, shift_id = $2 WHERE reservation_id = ANY($3)`,
		string(shuttle.ReservationAssigned), shiftID, reservationIDs)
	return wrap("assign reservations", err)
}

func (s *Store) SaveStopArrivals(ctx context.Context, routeID, stopID string, arrivals []shuttle.StopArrival) error {
	if arrivals == nil {
		arrivals = []shuttle.StopArrival{}
	}
	b, err := json.Marshal(arrivals)
	if err != nil {
		return fmt.Errorf("encode arrivals: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE route_stop SET arrivals = $3::jsonb WHERE route_id = $1 AND stop_id = $2`, routeID, stopID, string(b))
	if err != nil {
		return wrap("save arrivals", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("stop %s on %s: %w", stopID, routeID, shuttle.ErrNotFound)
	}
	return nil
}

// StopArrivals reads back the last saved arrivals of a stop.
func (s *Store) StopArrivals(ctx context.Context, routeID, stopID string) ([]shuttle.StopArrival, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT arrivals::text FROM route_stop WHERE route_id = $1 AND stop_id = $2`, routeID, stopID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stop %s on %s: %w", stopID, routeID, shuttle.ErrNotFound)
	}
	if err != nil {
		return nil, wrap("query arrivals", err)
	}
	var out []shuttle.StopArrival
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: arrivals of %s: %v", shuttle.ErrDataIncomplete, stopID, err)
	}
	return out, nil
}

type shiftRow struct {
	ShiftID, RouteID          string
	Progress                  int
	Latitude, Longitude       float64
	AvailableSeats            int
	ReservationIDs            string
	StartTime                 string
	ArrivalTime               sql.NullString
	MinibusID, TripID, Status string
	Version                   int64
}

func (s *Store) scanShift(sc scanner) (shuttle.Shift, error) {
	var r shiftRow
	err := sc.Scan(&r.ShiftID, &r.RouteID, &r.Progress, &r.Latitude, &r.Longitude, &r.AvailableSeats,
		&r.ReservationIDs, &r.StartTime, &r.ArrivalTime, &r.MinibusID, &r.TripID, &r.Status, &r.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return shuttle.Shift{}, err
	}
	if err != nil {
		return shuttle.Shift{}, wrap("scan shift", err)
	}
	return r.shift(s.loc)
}

func (r shiftRow) shift(loc *time.Location) (shuttle.Shift, error) {
	sh := shuttle.Shift{
		ShiftID:        r.ShiftID,
		RouteID:        r.RouteID,
		Progress:       r.Progress,
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		AvailableSeats: r.AvailableSeats,
		MinibusID:      r.MinibusID,
		TripID:         r.TripID,
		Status:         shuttle.ShiftStatus(r.Status),
		Version:        r.Version,
	}
	var err error
	if sh.StartTime, err = shuttle.ParseTime(r.StartTime, loc); err != nil {
		return shuttle.Shift{}, fmt.Errorf("shift %s start: %w", r.ShiftID, err)
	}
	if r.ArrivalTime.Valid {
		if sh.ArrivalTime, err = shuttle.ParseOptionalTime(r.ArrivalTime.String, loc); err != nil {
			return shuttle.Shift{}, fmt.Errorf("shift %s arrival: %w", r.ShiftID, err)
		}
	}
	if r.ReservationIDs != "" {
		if err := json.Unmarshal([]byte(r.ReservationIDs), &sh.ReservationIDs); err != nil {
			return shuttle.Shift{}, fmt.Errorf("%w: shift %s reservation ids: %v", shuttle.ErrDataIncomplete, r.ShiftID, err)
		}
	}
	return sh, nil
}

// updateShiftSQL builds the partial UPDATE for u. The version always bumps;
// unless u is unguarded ExpectedVersion is added to the WHERE clause.
func updateShiftSQL(shiftID string, u store.ShiftUpdate) (string, []any, error) {
	var sets []string
	args := []any{shiftID}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.Progress != nil {
		add("progress", *u.Progress)
	}
	if u.Latitude != nil {
		add("latitude", *u.Latitude)
	}
	if u.Longitude != nil {
		add("longitude", *u.Longitude)
	}
	if u.AvailableSeats != nil {
		add("available_seats", *u.AvailableSeats)
	}
	if u.ReservationIDs != nil {
		ids, err := encodeIDs(u.ReservationIDs)
		if err != nil {
			return "", nil, err
		}
		args = append(args, ids)
		sets = append(sets, fmt.Sprintf("reservation_ids = $%d::jsonb", len(args)))
	}
	if u.ArrivalTime != nil {
		add("arrival_time", shuttle.FormatTime(*u.ArrivalTime))
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	sets = append(sets, "version = version + 1")

	q := "UPDATE shift SET " + strings.Join(sets, ", ") + " WHERE shift_id = $1"
	if !u.Unguarded {
		args = append(args, u.ExpectedVersion)
		q += fmt.Sprintf(" AND version = $%d", len(args))
	}
	return q, args, nil
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode reservation ids: %w", err)
	}
	return string(b), nil
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return shuttle.FormatTime(*t)
}

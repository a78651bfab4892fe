package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shuttle-simulator/internal/shuttle"
)

// Memory is an in-process Store. It keeps insertion order so find-many
// queries return rows the way a collection scan would.
type Memory struct {
	mu           sync.Mutex
	routes       map[string]shuttle.Route
	stops        map[string]shuttle.Stop
	shifts       []shuttle.Shift
	reservations []shuttle.Reservation
	arrivals     map[string][]shuttle.StopArrival // routeID/stopID

	// FailNext, when set, makes the next call fail with the returned error.
	FailNext func(op string) error
}

func NewMemory() *Memory {
	return &Memory{
		routes:   make(map[string]shuttle.Route),
		stops:    make(map[string]shuttle.Stop),
		arrivals: make(map[string][]shuttle.StopArrival),
	}
}

func (m *Memory) AddRoute(r shuttle.Route, stops ...shuttle.Stop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[r.RouteID] = r
	for _, s := range stops {
		m.stops[s.StopID] = s
	}
}

func (m *Memory) AddReservation(r shuttle.Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations = append(m.reservations, r)
}

// Reservation returns a stored reservation by id.
func (m *Memory) Reservation(id string) (shuttle.Reservation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reservations {
		if r.ReservationID == id {
			return r, true
		}
	}
	return shuttle.Reservation{}, false
}

// Shift returns a stored shift by id.
func (m *Memory) Shift(id string) (shuttle.Shift, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.shiftIndex(id); i >= 0 {
		return m.shifts[i].Clone(), true
	}
	return shuttle.Shift{}, false
}

// StopArrivals returns what SaveStopArrivals last wrote for a stop.
func (m *Memory) StopArrivals(routeID, stopID string) []shuttle.StopArrival {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arrivals[routeID+"/"+stopID]
}

func (m *Memory) fail(op string) error {
	if m.FailNext == nil {
		return nil
	}
	f := m.FailNext
	m.FailNext = nil
	return f(op)
}

func (m *Memory) shiftIndex(id string) int {
	for i, s := range m.shifts {
		if s.ShiftID == id {
			return i
		}
	}
	return -1
}

func (m *Memory) Route(_ context.Context, routeID string) (shuttle.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("route"); err != nil {
		return shuttle.Route{}, err
	}
	r, ok := m.routes[routeID]
	if !ok {
		return shuttle.Route{}, fmt.Errorf("route %s: %w", routeID, shuttle.ErrNotFound)
	}
	return r, nil
}

func (m *Memory) Stops(_ context.Context, stopIDs []string) ([]shuttle.Stop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("stops"); err != nil {
		return nil, err
	}
	out := make([]shuttle.Stop, 0, len(stopIDs))
	for _, id := range stopIDs {
		if s, ok := m.stops[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) Shifts(_ context.Context, routeID string) ([]shuttle.Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("shifts"); err != nil {
		return nil, err
	}
	var out []shuttle.Shift
	for _, s := range m.shifts {
		if s.RouteID == routeID {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (m *Memory) WaitingShift(_ context.Context, routeID string) (shuttle.Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("waiting_shift"); err != nil {
		return shuttle.Shift{}, err
	}
	for _, s := range m.shifts {
		if s.RouteID == routeID && s.Progress == 0 && s.ArrivalTime == nil {
			return s.Clone(), nil
		}
	}
	return shuttle.Shift{}, fmt.Errorf("waiting shift on %s: %w", routeID, shuttle.ErrNotFound)
}

func (m *Memory) LeadingShift(_ context.Context, routeID string, stopIndex int) (shuttle.Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("leading_shift"); err != nil {
		return shuttle.Shift{}, err
	}
	best := -1
	for i, s := range m.shifts {
		if s.RouteID != routeID || s.Progress >= stopIndex {
			continue
		}
		if best < 0 || s.Progress > m.shifts[best].Progress {
			best = i
		}
	}
	if best < 0 {
		return shuttle.Shift{}, fmt.Errorf("shift before stop %d on %s: %w", stopIndex, routeID, shuttle.ErrNotFound)
	}
	return m.shifts[best].Clone(), nil
}

func (m *Memory) InsertShift(_ context.Context, s shuttle.Shift) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("insert_shift"); err != nil {
		return err
	}
	if m.shiftIndex(s.ShiftID) >= 0 {
		return fmt.Errorf("%w: shift %s exists", shuttle.ErrInvalidState, s.ShiftID)
	}
	s = s.Clone()
	if s.Version == 0 {
		s.Version = shuttle.InitialVersion
	}
	m.shifts = append(m.shifts, s)
	return nil
}

func (m *Memory) UpdateShift(_ context.Context, shiftID string, u ShiftUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("update_shift"); err != nil {
		return err
	}
	i := m.shiftIndex(shiftID)
	if i < 0 {
		return fmt.Errorf("shift %s: %w", shiftID, shuttle.ErrNotFound)
	}
	if !u.Unguarded && m.shifts[i].Version != u.ExpectedVersion {
		return fmt.Errorf("shift %s at version %d, expected %d: %w", shiftID, m.shifts[i].Version, u.ExpectedVersion, shuttle.ErrConflict)
	}
	u.Apply(&m.shifts[i])
	return nil
}

func (m *Memory) DeleteShift(_ context.Context, shiftID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete_shift"); err != nil {
		return err
	}
	i := m.shiftIndex(shiftID)
	if i < 0 {
		return fmt.Errorf("shift %s: %w", shiftID, shuttle.ErrNotFound)
	}
	m.shifts = append(m.shifts[:i], m.shifts[i+1:]...)
	return nil
}

func (m *Memory) PendingReservations(_ context.Context, routeID, stopID string, notBefore time.Time) ([]shuttle.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("pending_reservations"); err != nil {
		return nil, err
	}
	var out []shuttle.Reservation
	for _, r := range m.reservations {
		if r.RouteID == routeID && r.PickupStopID == stopID && r.Status == shuttle.ReservationReserved && !r.ReservedTime.Before(notBefore) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) AssignReservations(_ context.Context, shiftID string, reservationIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("assign_reservations"); err != nil {
		return err
	}
	want := make(map[string]bool, len(reservationIDs))
	for _, id := range reservationIDs {
		want[id] = true
	}
	for i := range m.reservations {
		if want[m.reservations[i].ReservationID] {
			m.reservations[i].Status = shuttle.ReservationAssigned
			m.reservations[i].ShiftID = shiftID
		}
	}
	return nil
}

func (m *Memory) SaveStopArrivals(_ context.Context, routeID, stopID string, arrivals []shuttle.StopArrival) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("save_stop_arrivals"); err != nil {
		return err
	}
	m.arrivals[routeID+"/"+stopID] = append([]shuttle.StopArrival(nil), arrivals...)
	return nil
}

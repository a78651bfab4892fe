package shuttle

import (
	"fmt"
	"sort"
	"time"
)

// DefaultCapacity is the seat count of a minibus.
const DefaultCapacity = 16

// InitialVersion is the version of a shift when it is first stored.
const InitialVersion int64 = 1

type ShiftStatus string

const (
	StatusWaiting   ShiftStatus = "waiting"
	StatusInTransit ShiftStatus = "in_transit"
	StatusCompleted ShiftStatus = "completed"
)

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "reserved"
	ReservationAssigned  ReservationStatus = "assigned"
	ReservationCancelled ReservationStatus = "cancelled"
)

type RouteStop struct {
	StopID string
	Order  int
}

type Route struct {
	RouteID string
	Stops   []RouteStop
}

// OrderedStopIDs returns stop ids sorted by their order index.
func (r Route) OrderedStopIDs() []string {
	rs := make([]RouteStop, len(r.Stops))
	copy(rs, r.Stops)
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Order < rs[j].Order })
	ids := make([]string, len(rs))
	for i, s := range rs {
		ids[i] = s.StopID
	}
	return ids
}

// Validate checks that order indices form a contiguous 0-based sequence.
func (r Route) Validate() error {
	if len(r.Stops) == 0 {
		return fmt.Errorf("%w: route %s has no stops", ErrDataIncomplete, r.RouteID)
	}
	seen := make([]bool, len(r.Stops))
	for _, s := range r.Stops {
		if s.StopID == "" {
			return fmt.Errorf("%w: route %s has a stop without id", ErrDataIncomplete, r.RouteID)
		}
		if s.Order < 0 || s.Order >= len(r.Stops) || seen[s.Order] {
			return fmt.Errorf("%w: route %s stop order %d not contiguous", ErrDataIncomplete, r.RouteID, s.Order)
		}
		seen[s.Order] = true
	}
	return nil
}

type Stop struct {
	StopID    string
	Name      string
	Latitude  float64
	Longitude float64
}

// Located reports whether the stop carries coordinates.
func (s Stop) Located() bool { return s.Latitude != 0 || s.Longitude != 0 }

type Shift struct {
	ShiftID        string
	RouteID        string
	Progress       int // index of the last stop reached
	Latitude       float64
	Longitude      float64
	AvailableSeats int
	ReservationIDs []string
	StartTime      time.Time  // creation instant
	ArrivalTime    *time.Time // nil while waiting at origin
	MinibusID      string
	TripID         string
	Status         ShiftStatus
	Version        int64
}

// Waiting reports whether the shift has not yet departed the origin.
func (s Shift) Waiting() bool { return s.ArrivalTime == nil }

// Reference returns the arrival time, or start time while waiting.
func (s Shift) Reference() time.Time {
	if s.ArrivalTime != nil {
		return *s.ArrivalTime
	}
	return s.StartTime
}

// Clone returns a deep copy so callers can work on a stable snapshot.
func (s Shift) Clone() Shift {
	c := s
	if s.ArrivalTime != nil {
		t := *s.ArrivalTime
		c.ArrivalTime = &t
	}
	if s.ReservationIDs != nil {
		c.ReservationIDs = append([]string(nil), s.ReservationIDs...)
	}
	return c
}

type Reservation struct {
	ReservationID string
	RouteID       string
	PickupStopID  string
	Seats         int
	ReservedTime  time.Time
	Status        ReservationStatus
	ShiftID       string
}

// StopArrival is one predicted arrival of a shift at a stop.
type StopArrival struct {
	ShiftID string    `json:"shiftId"`
	Arrival time.Time `json:"arrival"`
}

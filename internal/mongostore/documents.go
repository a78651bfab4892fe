package mongostore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"shuttle-simulator/internal/shuttle"
)

// Documents follow the collections written by the booking app. Several
// fields are loosely typed there (string coordinates, string stop order,
// Date or string timestamps), so they are decoded as any and normalised.

type routeDoc struct {
	RouteID   string         `bson:"route_id"`
	RouteName string         `bson:"route_name,omitempty"`
	Stops     []routeStopDoc `bson:"stops"`
}

type routeStopDoc struct {
	StopID       string   `bson:"stop_id"`
	Order        any      `bson:"order"`
	ArrivalTimes []string `bson:"arrival_times,omitempty"`
	ShiftIDs     []string `bson:"shift_ids,omitempty"`
}

type stopDoc struct {
	StopID    string `bson:"stop_id"`
	Name      string `bson:"name"`
	Latitude  any    `bson:"latitude"`
	Longitude any    `bson:"longitude"`
}

type shiftDoc struct {
	ShiftID        string   `bson:"shift_id"`
	RouteID        string   `bson:"route_id"`
	Progress       int      `bson:"progress"`
	Latitude       float64  `bson:"latitude"`
	Longitude      float64  `bson:"longitude"`
	AvailableSeats int      `bson:"available_seats"`
	ReservationIDs []string `bson:"reservations_id"`
	StartTime      any      `bson:"start_time"`
	ArrivalTime    any      `bson:"arrival_time"`
	MinibusID      string   `bson:"minibus_id"`
	TripID         string   `bson:"trip_id"`
	Status         string   `bson:"status,omitempty"`
	Version        int64    `bson:"version"`
}

type reservationDoc struct {
	ReservationID string `bson:"reservation_id"`
	RouteID       string `bson:"route_id"`
	PickupStopID  string `bson:"pickup_location"`
	Seats         any    `bson:"seat"`
	ReservedTime  any    `bson:"reserved_time"`
	Status        string `bson:"reservation_status"`
	ShiftID       string `bson:"shift_id,omitempty"`
}

var reservationStatuses = map[shuttle.ReservationStatus]string{
	shuttle.ReservationReserved:  "Reserved",
	shuttle.ReservationAssigned:  "Assigned",
	shuttle.ReservationCancelled: "Cancelled",
}

func reservationStatusDoc(s shuttle.ReservationStatus) string {
	if v, ok := reservationStatuses[s]; ok {
		return v
	}
	return string(s)
}

func reservationStatus(doc string) shuttle.ReservationStatus {
	for k, v := range reservationStatuses {
		if strings.EqualFold(v, doc) {
			return k
		}
	}
	return shuttle.ReservationStatus(strings.ToLower(doc))
}

func (d routeDoc) route() (shuttle.Route, error) {
	r := shuttle.Route{RouteID: d.RouteID}
	for _, s := range d.Stops {
		order, err := intValue(s.Order)
		if err != nil {
			return shuttle.Route{}, fmt.Errorf("%w: route %s stop %s order: %v", shuttle.ErrDataIncomplete, d.RouteID, s.StopID, err)
		}
		r.Stops = append(r.Stops, shuttle.RouteStop{StopID: s.StopID, Order: order})
	}
	return r, nil
}

func (d stopDoc) stop() (shuttle.Stop, error) {
	lat, err := floatValue(d.Latitude)
	if err != nil {
		return shuttle.Stop{}, fmt.Errorf("%w: stop %s latitude: %v", shuttle.ErrDataIncomplete, d.StopID, err)
	}
	lon, err := floatValue(d.Longitude)
	if err != nil {
		return shuttle.Stop{}, fmt.Errorf("%w: stop %s longitude: %v", shuttle.ErrDataIncomplete, d.StopID, err)
	}
	return shuttle.Stop{StopID: d.StopID, Name: d.Name, Latitude: lat, Longitude: lon}, nil
}

func (d shiftDoc) shift(loc *time.Location) (shuttle.Shift, error) {
	sh := shuttle.Shift{
		ShiftID:        d.ShiftID,
		RouteID:        d.RouteID,
		Progress:       d.Progress,
		Latitude:       d.Latitude,
		Longitude:      d.Longitude,
		AvailableSeats: d.AvailableSeats,
		ReservationIDs: d.ReservationIDs,
		MinibusID:      d.MinibusID,
		TripID:         d.TripID,
		Status:         shuttle.ShiftStatus(d.Status),
		Version:        d.Version,
	}
	start, err := timeValue(d.StartTime, loc)
	if err != nil {
		return shuttle.Shift{}, fmt.Errorf("shift %s start time: %w", d.ShiftID, err)
	}
	if start == nil {
		return shuttle.Shift{}, fmt.Errorf("%w: shift %s has no start time", shuttle.ErrDataIncomplete, d.ShiftID)
	}
	sh.StartTime = *start
	if sh.ArrivalTime, err = timeValue(d.ArrivalTime, loc); err != nil {
		return shuttle.Shift{}, fmt.Errorf("shift %s arrival time: %w", d.ShiftID, err)
	}
	if sh.Status == "" {
		sh.Status = shuttle.StatusInTransit
		if sh.Waiting() {
			sh.Status = shuttle.StatusWaiting
		}
	}
	return sh, nil
}

func newShiftDoc(s shuttle.Shift) shiftDoc {
	d := shiftDoc{
		ShiftID:        s.ShiftID,
		RouteID:        s.RouteID,
		Progress:       s.Progress,
		Latitude:       s.Latitude,
		Longitude:      s.Longitude,
		AvailableSeats: s.AvailableSeats,
		ReservationIDs: s.ReservationIDs,
		StartTime:      shuttle.FormatTime(s.StartTime),
		MinibusID:      s.MinibusID,
		TripID:         s.TripID,
		Status:         string(s.Status),
		Version:        s.Version,
	}
	if d.ReservationIDs == nil {
		d.ReservationIDs = []string{}
	}
	if s.ArrivalTime != nil {
		d.ArrivalTime = shuttle.FormatTime(*s.ArrivalTime)
	}
	if d.Version == 0 {
		d.Version = shuttle.InitialVersion
	}
	return d
}

func (d reservationDoc) reservation(loc *time.Location) (shuttle.Reservation, error) {
	r := shuttle.Reservation{
		ReservationID: d.ReservationID,
		RouteID:       d.RouteID,
		PickupStopID:  d.PickupStopID,
		Status:        reservationStatus(d.Status),
		ShiftID:       d.ShiftID,
	}
	r.Seats = 1
	if d.Seats != nil {
		n, err := intValue(d.Seats)
		if err != nil {
			return shuttle.Reservation{}, fmt.Errorf("%w: reservation %s seat: %v", shuttle.ErrDataIncomplete, d.ReservationID, err)
		}
		r.Seats = n
	}
	t, err := timeValue(d.ReservedTime, loc)
	if err != nil {
		return shuttle.Reservation{}, fmt.Errorf("reservation %s reserved time: %w", d.ReservationID, err)
	}
	if t == nil {
		return shuttle.Reservation{}, fmt.Errorf("%w: reservation %s has no reserved time", shuttle.ErrDataIncomplete, d.ReservationID)
	}
	r.ReservedTime = *t
	return r, nil
}

func intValue(v any) (int, error) {
	switch n := v.(type) {
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case int:
		return n, nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	}
	return 0, fmt.Errorf("unexpected %T", v)
}

func floatValue(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		if strings.TrimSpace(n) == "" {
			return 0, nil
		}
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	return 0, fmt.Errorf("unexpected %T", v)
}

// timeValue accepts BSON dates and ISO-8601 strings; nil and the null
// sentinels map to nil.
func timeValue(v any, loc *time.Location) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case primitive.DateTime:
		tt := t.Time().In(loc)
		return &tt, nil
	case time.Time:
		tt := t.In(loc)
		return &tt, nil
	case string:
		return shuttle.ParseOptionalTime(t, loc)
	}
	return nil, fmt.Errorf("%w: unexpected time %T", shuttle.ErrDataIncomplete, v)
}

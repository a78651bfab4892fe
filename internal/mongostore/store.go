// Package mongostore implements store.Store on the MongoDB collections
// shared with the booking app (route, stop, shift, reservation).
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"shuttle-simulator/internal/shuttle"
	"shuttle-simulator/internal/store"
)

const (
	routeCollection       = "route"
	stopCollection        = "stop"
	shiftCollection       = "shift"
	reservationCollection = "reservation"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	loc    *time.Location
}

// Connect dials MongoDB and pings it.
func Connect(ctx context.Context, uri, database string, loc *time.Location) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Store{client: client, db: client.Database(database), loc: loc}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// EnsureIndexes creates the lookup indexes used by the simulator.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		routeCollection: {
			{Keys: bson.D{{Key: "route_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		stopCollection: {
			{Keys: bson.D{{Key: "stop_id", Value: 1}}},
		},
		shiftCollection: {
			{Keys: bson.D{{Key: "shift_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "route_id", Value: 1}, {Key: "progress", Value: -1}}},
		},
		reservationCollection: {
			{Keys: bson.D{{Key: "reservation_id", Value: 1}}},
			{Keys: bson.D{{Key: "route_id", Value: 1}, {Key: "pickup_location", Value: 1}, {Key: "reservation_status", Value: 1}}},
		},
	}
	for name, models := range indexes {
		if _, err := s.collection(name).Indexes().CreateMany(ctx, models, options.CreateIndexes()); err != nil {
			return wrap("create indexes "+name, err)
		}
		log.Debug().Str("collection", name).Int("indexes", len(models)).Msg("ensured indexes")
	}
	return nil
}

func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s: %w", op, shuttle.ErrNotFound)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w: %v", op, shuttle.ErrInvalidState, err)
	}
	return fmt.Errorf("%s: %w: %v", op, shuttle.ErrTransientStore, err)
}

func (s *Store) Route(ctx context.Context, routeID string) (shuttle.Route, error) {
	var doc routeDoc
	err := s.collection(routeCollection).FindOne(ctx, bson.M{"route_id": routeID}).Decode(&doc)
	if err != nil {
		return shuttle.Route{}, wrap("route "+routeID, err)
	}
	return doc.route()
}

func (s *Store) Stops(ctx context.Context, stopIDs []string) ([]shuttle.Stop, error) {
	if len(stopIDs) == 0 {
		return nil, nil
	}
	cur, err := s.collection(stopCollection).Find(ctx, bson.M{"stop_id": bson.M{"$in": stopIDs}})
	if err != nil {
		return nil, wrap("find stops", err)
	}
	var docs []stopDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrap("decode stops", err)
	}
	byID := make(map[string]shuttle.Stop, len(docs))
	for _, d := range docs {
		st, err := d.stop()
		if err != nil {
			return nil, err
		}
		byID[st.StopID] = st
	}
	out := make([]shuttle.Stop, 0, len(byID))
	for _, id := range stopIDs {
		if st, ok := byID[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) findShifts(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]shuttle.Shift, error) {
	cur, err := s.collection(shiftCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, wrap("find shifts", err)
	}
	var docs []shiftDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrap("decode shifts", err)
	}
	out := make([]shuttle.Shift, 0, len(docs))
	for _, d := range docs {
		sh, err := d.shift(s.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, nil
}

func (s *Store) Shifts(ctx context.Context, routeID string) ([]shuttle.Shift, error) {
	return s.findShifts(ctx, bson.M{"route_id": routeID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

func (s *Store) findOneShift(ctx context.Context, filter bson.M, opts *options.FindOneOptions, what string) (shuttle.Shift, error) {
	var doc shiftDoc
	if err := s.collection(shiftCollection).FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		return shuttle.Shift{}, wrap(what, err)
	}
	return doc.shift(s.loc)
}

// WaitingShift matches arrival_time null or absent.
func (s *Store) WaitingShift(ctx context.Context, routeID string) (shuttle.Shift, error) {
	return s.findOneShift(ctx,
		bson.M{"route_id": routeID, "progress": 0, "arrival_time": nil},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}}),
		"waiting shift on "+routeID)
}

func (s *Store) LeadingShift(ctx context.Context, routeID string, stopIndex int) (shuttle.Shift, error) {
	return s.findOneShift(ctx,
		bson.M{"route_id": routeID, "progress": bson.M{"$lt": stopIndex}},
		options.FindOne().SetSort(bson.D{{Key: "progress", Value: -1}, {Key: "_id", Value: 1}}),
		fmt.Sprintf("shift before stop %d on %s", stopIndex, routeID))
}

func (s *Store) InsertShift(ctx context.Context, sh shuttle.Shift) error {
	_, err := s.collection(shiftCollection).InsertOne(ctx, newShiftDoc(sh))
	return wrap("insert shift "+sh.ShiftID, err)
}

func (s *Store) UpdateShift(ctx context.Context, shiftID string, u store.ShiftUpdate) error {
	res, err := s.collection(shiftCollection).UpdateOne(ctx, updateFilter(shiftID, u), updateDoc(u))
	if err != nil {
		return wrap("update shift "+shiftID, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.collection(shiftCollection).CountDocuments(ctx, bson.M{"shift_id": shiftID})
	if err != nil {
		return wrap("count shift "+shiftID, err)
	}
	if n == 0 {
		return fmt.Errorf("shift %s: %w", shiftID, shuttle.ErrNotFound)
	}
	return fmt.Errorf("shift %s changed since version %d: %w", shiftID, u.ExpectedVersion, shuttle.ErrConflict)
}

// updateFilter selects the shift at the expected version. Legacy documents
// carry no version field and read back as version 0.
func updateFilter(shiftID string, u store.ShiftUpdate) bson.M {
	filter := bson.M{"shift_id": shiftID}
	switch {
	case u.Unguarded:
	case u.ExpectedVersion == 0:
		filter["$or"] = bson.A{bson.M{"version": 0}, bson.M{"version": bson.M{"$exists": false}}}
	default:
		filter["version"] = u.ExpectedVersion
	}
	return filter
}

// updateDoc renders u as $set fields plus a version bump.
func updateDoc(u store.ShiftUpdate) bson.M {
	set := bson.M{}
	if u.Progress != nil {
		set["progress"] = *u.Progress
	}
	if u.Latitude != nil {
		set["latitude"] = *u.Latitude
	}
	if u.Longitude != nil {
		set["longitude"] = *u.Longitude
	}
	if u.AvailableSeats != nil {
		set["available_seats"] = *u.AvailableSeats
	}
	if u.ReservationIDs != nil {
		set["reservations_id"] = u.ReservationIDs
	}
	if u.ArrivalTime != nil {
		set["arrival_time"] = shuttle.FormatTime(*u.ArrivalTime)
	}
	if u.Status != nil {
		set["status"] = string(*u.Status)
	}
	doc := bson.M{"$inc": bson.M{"version": 1}}
	if len(set) > 0 {
		doc["$set"] = set
	}
	return doc
}

func (s *Store) DeleteShift(ctx context.Context, shiftID string) error {
	res, err := s.collection(shiftCollection).DeleteOne(ctx, bson.M{"shift_id": shiftID})
	if err != nil {
		return wrap("delete shift "+shiftID, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("shift %s: %w", shiftID, shuttle.ErrNotFound)
	}
	return nil
}

// PendingReservations applies the reserved-time bound after decoding since
// the booking app writes either dates or strings.
func (s *Store) PendingReservations(ctx context.Context, routeID, stopID string, notBefore time.Time) ([]shuttle.Reservation, error) {
	cur, err := s.collection(reservationCollection).Find(ctx, bson.M{
		"route_id":           routeID,
		"pickup_location":    stopID,
		"reservation_status": reservationStatusDoc(shuttle.ReservationReserved),
	}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrap("find reservations", err)
	}
	var docs []reservationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrap("decode reservations", err)
	}
	var out []shuttle.Reservation
	for _, d := range docs {
		r, err := d.reservation(s.loc)
		if err != nil {
			log.Warn().Err(err).Str("reservation", d.ReservationID).Msg("skipping malformed reservation")
			continue
		}
		if !r.ReservedTime.Before(notBefore) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) AssignReservations(ctx context.Context, shiftID string, reservationIDs []string) error {
	if len(reservationIDs) == 0 {
		return nil
	}
	_, err := s.collection(reservationCollection).UpdateMany(ctx,
		bson.M{"reservation_id": bson.M{"$in": reservationIDs}},
		bson.M{"$set": bson.M{
			"reservation_status": reservationStatusDoc(shuttle.ReservationAssigned),
			"shift_id":           shiftID,
		}})
	return wrap("assign reservations", err)
}

// SaveStopArrivals writes arrival_times and shift_ids into the matching
// element of the route's stops array.
func (s *Store) SaveStopArrivals(ctx context.Context, routeID, stopID string, arrivals []shuttle.StopArrival) error {
	times := make([]string, len(arrivals))
	ids := make([]string, len(arrivals))
	for i, a := range arrivals {
		times[i] = shuttle.FormatTime(a.Arrival)
		ids[i] = a.ShiftID
	}
	res, err := s.collection(routeCollection).UpdateOne(ctx,
		bson.M{"route_id": routeID, "stops.stop_id": stopID},
		bson.M{"$set": bson.M{
			"stops.$.arrival_times": times,
			"stops.$.shift_ids":     ids,
		}})
	if err != nil {
		return wrap("save arrivals", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("stop %s on %s: %w", stopID, routeID, shuttle.ErrNotFound)
	}
	return nil
}

// SeedRoute upserts a route with its ordered stops, and the stops themselves.
func (s *Store) SeedRoute(ctx context.Context, r shuttle.Route, stops []shuttle.Stop) error {
	if err := r.Validate(); err != nil {
		return err
	}
	doc := routeDoc{RouteID: r.RouteID, RouteName: r.RouteID}
	for _, rs := range r.Stops {
		doc.Stops = append(doc.Stops, routeStopDoc{StopID: rs.StopID, Order: rs.Order})
	}
	upsert := options.Update().SetUpsert(true)
	if _, err := s.collection(routeCollection).UpdateOne(ctx, bson.M{"route_id": r.RouteID}, bson.M{"$set": doc}, upsert); err != nil {
		return wrap("seed route "+r.RouteID, err)
	}
	for _, st := range stops {
		d := stopDoc{StopID: st.StopID, Name: st.Name, Latitude: st.Latitude, Longitude: st.Longitude}
		if _, err := s.collection(stopCollection).UpdateOne(ctx, bson.M{"stop_id": st.StopID}, bson.M{"$set": d}, upsert); err != nil {
			return wrap("seed stop "+st.StopID, err)
		}
	}
	return nil
}

func (s *Store) AddReservation(ctx context.Context, r shuttle.Reservation) error {
	status := r.Status
	if status == "" {
		status = shuttle.ReservationReserved
	}
	_, err := s.collection(reservationCollection).InsertOne(ctx, reservationDoc{
		ReservationID: r.ReservationID,
		RouteID:       r.RouteID,
		PickupStopID:  r.PickupStopID,
		Seats:         r.Seats,
		ReservedTime:  shuttle.FormatTime(r.ReservedTime),
		Status:        reservationStatusDoc(status),
		ShiftID:       r.ShiftID,
	})
	return wrap("insert reservation "+r.ReservationID, err)
}

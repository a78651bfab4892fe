package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	mmetrics "shuttle-simulator/internal/metrics"
	"shuttle-simulator/internal/publisher"
	"shuttle-simulator/internal/shuttle"
	"shuttle-simulator/internal/store"
	"shuttle-simulator/internal/traveltime"
)

// Publisher receives the per-tick outputs of the manager.
type Publisher interface {
	PublishPosition(routeID, shiftID string, msg publisher.PositionMessage) error
	PublishArrivals(routeID string, msg publisher.ArrivalsMessage) error
}

// RouteSource is the static configuration of one simulated route.
type RouteSource struct {
	RouteID string
	Travel  traveltime.Table
	Rates   traveltime.ArrivalRates
}

// RouteReport summarizes one route tick.
type RouteReport struct {
	RouteID   string
	Moving    []shuttle.Shift // departed shifts still on the route
	Removed   []string
	Waiting   *shuttle.Shift
	Boarding  *BoardingResult
	Departure *Departure
	Board     []publisher.StopBoard
	Skipped   int // shifts skipped after a recoverable error
}

// Manager drives every configured route once per tick, one worker per
// route. Work on a single shift is serialized through ShiftLocks.
type Manager struct {
	store        store.Store
	engine       *Engine
	pub          Publisher
	tickInterval time.Duration
	tz           *time.Location
	metrics      *mmetrics.Collector
	locks        *ShiftLocks

	routes map[string]RouteSource
	order  []string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(st store.Store, engine *Engine, pub Publisher, routes []RouteSource, tickInterval time.Duration, tz *time.Location, metrics *mmetrics.Collector) *Manager {
	if tz == nil {
		tz = time.Local
	}
	m := &Manager{
		store:        st,
		engine:       engine,
		pub:          pub,
		tickInterval: tickInterval,
		tz:           tz,
		metrics:      metrics,
		locks:        NewShiftLocks(),
		routes:       make(map[string]RouteSource, len(routes)),
	}
	for _, r := range routes {
		if _, dup := m.routes[r.RouteID]; !dup {
			m.order = append(m.order, r.RouteID)
		}
		m.routes[r.RouteID] = r
	}
	return m
}

// Start launches one worker per route. It returns immediately.
func (m *Manager) Start(parent context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.done = make(chan struct{})

	p := pool.New().WithContext(ctx)
	for _, id := range m.order {
		rs := m.routes[id]
		log.Info().Str("route", id).Dur("interval", m.tickInterval).Msg("starting route worker")
		p.Go(func(ctx context.Context) error {
			m.runRoute(ctx, rs)
			return nil
		})
	}
	go func() {
		_ = p.Wait()
		close(m.done)
	}()
}

func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) runRoute(ctx context.Context, rs RouteSource) {
	tick := time.NewTicker(m.tickInterval)
	defer tick.Stop()

	m.tickOnce(ctx, rs, time.Now(), m.tickInterval)
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("route", rs.RouteID).Msg("route worker stopped")
			return
		case now := <-tick.C:
			m.tickOnce(ctx, rs, now, now.Sub(last))
			last = now
		}
	}
}

func (m *Manager) tickOnce(ctx context.Context, rs RouteSource, now time.Time, elapsed time.Duration) {
	start := time.Now()
	if _, err := m.TickRoute(ctx, rs.RouteID, now.In(m.tz), elapsed); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("route", rs.RouteID).Msg("route tick failed")
		if m.metrics != nil {
			m.metrics.RouteTickErrors.WithLabelValues(rs.RouteID).Inc()
		}
	}
	if m.metrics != nil {
		m.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// TickRoute runs one full cycle for a route at now: advance departed
// shifts, board the waiting shift (creating one if needed), then predict
// and record arrivals at every stop.
func (m *Manager) TickRoute(ctx context.Context, routeID string, now time.Time, elapsed time.Duration) (RouteReport, error) {
	report := RouteReport{RouteID: routeID}
	rs, ok := m.routes[routeID]
	if !ok {
		return report, fmt.Errorf("route %s: %w", routeID, shuttle.ErrNotFound)
	}
	rc, err := LoadRouteContext(ctx, m.store, rs.RouteID, rs.Travel, rs.Rates)
	if err != nil {
		return report, err
	}
	shifts, err := m.store.Shifts(ctx, routeID)
	if err != nil {
		return report, err
	}

	for _, sh := range shifts {
		if sh.Waiting() {
			continue
		}
		next, err := m.advance(ctx, rc, sh, now)
		switch {
		case err != nil && recoverable(err):
			log.Warn().Err(err).Str("route", routeID).Str("shift", sh.ShiftID).Msg("skip shift")
			report.Skipped++
		case err != nil:
			return report, err
		case next == nil:
			report.Removed = append(report.Removed, sh.ShiftID)
		default:
			report.Moving = append(report.Moving, *next)
		}
	}

	waiting, br, err := m.board(ctx, rc, now, elapsed)
	if err != nil {
		if !recoverable(err) {
			return report, err
		}
		log.Warn().Err(err).Str("route", routeID).Msg("skip boarding")
		report.Skipped++
	}
	report.Waiting, report.Boarding = waiting, br
	if br != nil && br.Departed {
		report.Moving = append(report.Moving, br.Shift)
		m.publishPosition(br.Shift, now)
	}

	board, dep, err := m.predict(ctx, rc, waiting, report.Moving, now)
	if err != nil {
		return report, err
	}
	report.Board, report.Departure = board, dep

	if m.metrics != nil {
		active := len(report.Moving)
		if waiting != nil {
			active++
		}
		m.metrics.ActiveShifts.WithLabelValues(routeID).Set(float64(active))
	}
	if m.pub != nil {
		msg := publisher.ArrivalsMessage{RouteID: routeID, Timestamp: now, Stops: board}
		if err := m.pub.PublishArrivals(routeID, msg); err != nil {
			log.Warn().Err(err).Str("route", routeID).Msg("publish arrivals")
		}
	}
	return report, nil
}

// advance ticks one departed shift and persists it. A nil shift means it was
// removed from the terminal.
func (m *Manager) advance(ctx context.Context, rc *RouteContext, sh shuttle.Shift, now time.Time) (*shuttle.Shift, error) {
	unlock := m.locks.Lock(sh.ShiftID)
	defer unlock()

	res, err := m.engine.Tick(rc, sh, now)
	if err != nil {
		return nil, err
	}
	if res.Expired {
		if err := m.store.DeleteShift(ctx, sh.ShiftID); err != nil && !errors.Is(err, shuttle.ErrNotFound) {
			return nil, err
		}
		log.Info().Str("route", sh.RouteID).Str("shift", sh.ShiftID).Msg("shift completed")
		if m.metrics != nil {
			m.metrics.ShiftsCompleted.Inc()
		}
		return nil, nil
	}
	u := store.FullUpdate(res.Shift)
	if err := m.store.UpdateShift(ctx, sh.ShiftID, u); err != nil {
		return nil, err
	}
	s := res.Shift
	s.Version++
	if res.Advanced > 0 {
		log.Debug().Str("shift", s.ShiftID).Int("progress", s.Progress).Int("seats", s.AvailableSeats).Msg("shift reached stop")
	}
	m.publishPosition(s, now)
	return &s, nil
}

// board runs boarding on the route's waiting shift, or creates one when
// none exists. It returns the shift now waiting at the origin.
func (m *Manager) board(ctx context.Context, rc *RouteContext, now time.Time, elapsed time.Duration) (*shuttle.Shift, *BoardingResult, error) {
	w, err := m.store.WaitingShift(ctx, rc.Route.RouteID)
	if errors.Is(err, shuttle.ErrNotFound) {
		s := m.engine.NewShift(rc, now)
		if err := m.store.InsertShift(ctx, s); err != nil {
			return nil, nil, err
		}
		log.Info().Str("route", s.RouteID).Str("shift", s.ShiftID).Str("minibus", s.MinibusID).Msg("waiting shift created")
		if m.metrics != nil {
			m.metrics.ShiftsCreated.Inc()
		}
		return &s, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	unlock := m.locks.Lock(w.ShiftID)
	defer unlock()
	br, err := m.engine.SimulateBoarding(ctx, rc, w, elapsed, now)
	if err != nil && !br.Departed {
		return nil, nil, err
	}
	if m.metrics != nil {
		m.metrics.PassengersBoarded.Add(float64(br.Boarded))
		if br.Departed {
			m.metrics.Departures.WithLabelValues(string(br.Reason)).Inc()
		}
		if br.Next != nil {
			m.metrics.ShiftsCreated.Inc()
		}
	}
	if !br.Departed {
		return &br.Shift, &br, nil
	}
	if err != nil {
		// Departed, but the replacement was not stored. The next tick creates it.
		log.Warn().Err(err).Str("route", rc.Route.RouteID).Msg("replacement shift not created")
	}
	return br.Next, &br, nil
}

// predict builds the arrival board: the waiting shift's departure at the
// origin, and at every later stop the ETAs of the shifts still before it,
// farthest along first, followed by the waiting shift.
func (m *Manager) predict(ctx context.Context, rc *RouteContext, waiting *shuttle.Shift, moving []shuttle.Shift, now time.Time) ([]publisher.StopBoard, *Departure, error) {
	var dep *Departure
	if waiting != nil {
		unlock := m.locks.Lock(waiting.ShiftID)
		d, err := m.engine.EstimateDeparture(ctx, rc, *waiting, now)
		unlock()
		switch {
		case err == nil:
			dep = &d
			if m.metrics != nil {
				m.metrics.ReservationsAssigned.Add(float64(len(d.Assigned)))
			}
		case recoverable(err):
			log.Warn().Err(err).Str("shift", waiting.ShiftID).Msg("no departure estimate")
		default:
			return nil, nil, err
		}
	}

	ordered := append([]shuttle.Shift(nil), moving...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Progress > ordered[j].Progress })

	boards := make([]publisher.StopBoard, 0, rc.StopCount())
	for k, stop := range rc.Stops {
		arrivals := []shuttle.StopArrival{}
		if k == 0 {
			if dep != nil {
				arrivals = append(arrivals, shuttle.StopArrival{ShiftID: dep.Shift.ShiftID, Arrival: dep.Time})
			}
		} else {
			for _, s := range ordered {
				if s.Progress >= k {
					continue
				}
				if a, ok := m.eta(rc, s, k, now); ok {
					arrivals = append(arrivals, a)
				}
			}
			if dep != nil {
				if a, ok := m.eta(rc, dep.Shift, k, dep.Time); ok {
					arrivals = append(arrivals, a)
				}
			}
		}
		if err := m.store.SaveStopArrivals(ctx, rc.Route.RouteID, stop.StopID, arrivals); err != nil {
			if !recoverable(err) {
				return nil, dep, err
			}
			log.Warn().Err(err).Str("stop", stop.StopID).Msg("arrivals not saved")
		}
		boards = append(boards, stopBoard(stop.StopID, arrivals))
	}
	return boards, dep, nil
}

func (m *Manager) eta(rc *RouteContext, s shuttle.Shift, k int, ref time.Time) (shuttle.StopArrival, bool) {
	at, err := m.engine.ETA(rc, s, k, ref)
	if err != nil {
		log.Debug().Err(err).Str("shift", s.ShiftID).Int("stop", k).Msg("eta skipped")
		if m.metrics != nil {
			m.metrics.ETAFailures.Inc()
		}
		return shuttle.StopArrival{}, false
	}
	return shuttle.StopArrival{ShiftID: s.ShiftID, Arrival: at}, true
}

// NextArrival answers "when is the next shuttle at this stop": the
// farthest-along departed shift still before the stop, or else the waiting
// shift after its estimated departure.
func (m *Manager) NextArrival(ctx context.Context, routeID string, stopIndex int, now time.Time) (shuttle.StopArrival, error) {
	rs, ok := m.routes[routeID]
	if !ok {
		return shuttle.StopArrival{}, fmt.Errorf("route %s: %w", routeID, shuttle.ErrNotFound)
	}
	rc, err := LoadRouteContext(ctx, m.store, rs.RouteID, rs.Travel, rs.Rates)
	if err != nil {
		return shuttle.StopArrival{}, err
	}
	if stopIndex < 0 || stopIndex >= rc.StopCount() {
		return shuttle.StopArrival{}, fmt.Errorf("%w: stop index %d outside route %s", shuttle.ErrInvalidState, stopIndex, routeID)
	}
	if stopIndex > 0 {
		lead, err := m.store.LeadingShift(ctx, routeID, stopIndex)
		switch {
		case err == nil && !lead.Waiting():
			at, err := m.engine.ETA(rc, lead, stopIndex, now)
			if err != nil {
				return shuttle.StopArrival{}, err
			}
			return shuttle.StopArrival{ShiftID: lead.ShiftID, Arrival: at}, nil
		case err != nil && !errors.Is(err, shuttle.ErrNotFound):
			return shuttle.StopArrival{}, err
		}
	}

	w, err := m.store.WaitingShift(ctx, routeID)
	if err != nil {
		return shuttle.StopArrival{}, err
	}
	unlock := m.locks.Lock(w.ShiftID)
	dep, err := m.engine.EstimateDeparture(ctx, rc, w, now)
	unlock()
	if err != nil {
		return shuttle.StopArrival{}, err
	}
	if stopIndex == 0 {
		return shuttle.StopArrival{ShiftID: w.ShiftID, Arrival: dep.Time}, nil
	}
	at, err := m.engine.ETA(rc, dep.Shift, stopIndex, dep.Time)
	if err != nil {
		return shuttle.StopArrival{}, err
	}
	return shuttle.StopArrival{ShiftID: w.ShiftID, Arrival: at}, nil
}

func (m *Manager) publishPosition(s shuttle.Shift, now time.Time) {
	if m.pub == nil {
		return
	}
	msg := publisher.PositionMessage{
		ShiftID:        s.ShiftID,
		RouteID:        s.RouteID,
		MinibusID:      s.MinibusID,
		Timestamp:      now,
		Lat:            s.Latitude,
		Lon:            s.Longitude,
		Progress:       s.Progress,
		AvailableSeats: s.AvailableSeats,
		Status:         string(s.Status),
		ArrivalTime:    s.ArrivalTime,
	}
	if err := m.pub.PublishPosition(s.RouteID, s.ShiftID, msg); err != nil {
		log.Warn().Err(err).Str("shift", s.ShiftID).Msg("publish position")
	}
}

func stopBoard(stopID string, arrivals []shuttle.StopArrival) publisher.StopBoard {
	b := publisher.StopBoard{StopID: stopID, Arrivals: make([]publisher.ArrivalItem, 0, len(arrivals))}
	for _, a := range arrivals {
		b.Arrivals = append(b.Arrivals, publisher.ArrivalItem{ShiftID: a.ShiftID, Arrival: a.Arrival})
	}
	return b
}

// recoverable errors skip the current item; the next tick retries it.
func recoverable(err error) bool {
	return shuttle.Skippable(err) || errors.Is(err, shuttle.ErrConflict)
}

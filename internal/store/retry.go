package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"shuttle-simulator/internal/shuttle"
)

// RetryPolicy bounds how transient store failures are retried.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

// Retrying wraps a Store and retries calls failing with
// shuttle.ErrTransientStore using exponential backoff. Every other error is
// returned immediately.
type Retrying struct {
	next   Store
	policy RetryPolicy

	// OnRetry is called before each retry; used for metrics.
	OnRetry func(op string, err error)
}

func WithRetry(next Store, policy RetryPolicy) *Retrying {
	return &Retrying{next: next, policy: policy}
}

func (r *Retrying) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, r.policy.MaxRetries), ctx)
}

func retry[T any](ctx context.Context, r *Retrying, op string, fn func() (T, error)) (T, error) {
	var out T
	err := backoff.RetryNotify(func() error {
		v, err := fn()
		if err != nil {
			if errors.Is(err, shuttle.ErrTransientStore) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = v
		return nil
	}, r.backoff(ctx), func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("op", op).Dur("wait", wait).Msg("store retry")
		if r.OnRetry != nil {
			r.OnRetry(op, err)
		}
	})
	return out, err
}

func retryErr(ctx context.Context, r *Retrying, op string, fn func() error) error {
	_, err := retry(ctx, r, op, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (r *Retrying) Route(ctx context.Context, routeID string) (shuttle.Route, error) {
	return retry(ctx, r, "route", func() (shuttle.Route, error) { return r.next.Route(ctx, routeID) })
}

func (r *Retrying) Stops(ctx context.Context, stopIDs []string) ([]shuttle.Stop, error) {
	return retry(ctx, r, "stops", func() ([]shuttle.Stop, error) { return r.next.Stops(ctx, stopIDs) })
}

func (r *Retrying) Shifts(ctx context.Context, routeID string) ([]shuttle.Shift, error) {
	return retry(ctx, r, "shifts", func() ([]shuttle.Shift, error) { return r.next.Shifts(ctx, routeID) })
}

func (r *Retrying) WaitingShift(ctx context.Context, routeID string) (shuttle.Shift, error) {
	return retry(ctx, r, "waiting_shift", func() (shuttle.Shift, error) { return r.next.WaitingShift(ctx, routeID) })
}

func (r *Retrying) LeadingShift(ctx context.Context, routeID string, stopIndex int) (shuttle.Shift, error) {
	return retry(ctx, r, "leading_shift", func() (shuttle.Shift, error) { return r.next.LeadingShift(ctx, routeID, stopIndex) })
}

func (r *Retrying) InsertShift(ctx context.Context, s shuttle.Shift) error {
	return retryErr(ctx, r, "insert_shift", func() error { return r.next.InsertShift(ctx, s) })
}

func (r *Retrying) UpdateShift(ctx context.Context, shiftID string, u ShiftUpdate) error {
	return retryErr(ctx, r, "update_shift", func() error { return r.next.UpdateShift(ctx, shiftID, u) })
}

func (r *Retrying) DeleteShift(ctx context.Context, shiftID string) error {
	return retryErr(ctx, r, "delete_shift", func() error { return r.next.DeleteShift(ctx, shiftID) })
}

func (r *Retrying) PendingReservations(ctx context.Context, routeID, stopID string, notBefore time.Time) ([]shuttle.Reservation, error) {
	return retry(ctx, r, "pending_reservations", func() ([]shuttle.Reservation, error) {
		return r.next.PendingReservations(ctx, routeID, stopID, notBefore)
	})
}

func (r *Retrying) AssignReservations(ctx context.Context, shiftID string, reservationIDs []string) error {
	return retryErr(ctx, r, "assign_reservations", func() error { return r.next.AssignReservations(ctx, shiftID, reservationIDs) })
}

func (r *Retrying) SaveStopArrivals(ctx context.Context, routeID, stopID string, arrivals []shuttle.StopArrival) error {
	return retryErr(ctx, r, "save_stop_arrivals", func() error { return r.next.SaveStopArrivals(ctx, routeID, stopID, arrivals) })
}

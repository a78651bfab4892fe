package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveShifts *prometheus.GaugeVec // route label

	ShiftsCreated        prometheus.Counter
	ShiftsCompleted      prometheus.Counter
	Departures           *prometheus.CounterVec // reason label: full|dwell
	PassengersBoarded    prometheus.Counter
	ReservationsAssigned prometheus.Counter
	ETAFailures          prometheus.Counter

	RouteTickErrors *prometheus.CounterVec // route label
	StoreRetries    *prometheus.CounterVec // op label

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	TickInterval      prometheus.Gauge // seconds
	BoardingRateScale prometheus.Gauge
}

func NewCollector(tickInterval time.Duration, boardingRateScale float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveShifts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "simulator_active_shifts",
			Help: "Number of shifts on a route after the last tick.",
		}, []string{"route"}),
		ShiftsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_shifts_created_total",
			Help: "Total waiting shifts created.",
		}),
		ShiftsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_shifts_completed_total",
			Help: "Total shifts removed after reaching the terminal stop.",
		}),
		Departures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simulator_departures_total",
			Help: "Shift departures from the origin by reason.",
		}, []string{"reason"}),
		PassengersBoarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_passengers_boarded_total",
			Help: "Total walk-up passengers boarded at route origins.",
		}),
		ReservationsAssigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_reservations_assigned_total",
			Help: "Total reservations bound to shifts.",
		}),
		ETAFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_eta_failures_total",
			Help: "ETA computations that failed and were skipped.",
		}),
		RouteTickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simulator_route_tick_errors_total",
			Help: "Route ticks that ended with an error.",
		}, []string{"route"}),
		StoreRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simulator_store_retries_total",
			Help: "Store operations retried after a transient failure.",
		}, []string{"op"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_tick_duration_seconds",
			Help:    "Duration of one route tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_tick_interval_seconds",
			Help: "Tick interval in seconds.",
		}),
		BoardingRateScale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_boarding_rate_scale",
			Help: "Divisor applied to the hourly arrival rate when boarding.",
		}),
	}

	reg.MustRegister(
		c.ActiveShifts,
		c.ShiftsCreated, c.ShiftsCompleted, c.Departures,
		c.PassengersBoarded, c.ReservationsAssigned, c.ETAFailures,
		c.RouteTickErrors, c.StoreRetries,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.TickDuration, c.PublishDuration,
		c.TickInterval, c.BoardingRateScale,
	)

	c.TickInterval.Set(tickInterval.Seconds())
	c.BoardingRateScale.Set(boardingRateScale)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Info().Str("addr", addr).Msg("metrics listening")
	return srv
}

// Publisher adapts the collector to the NATS publisher's metrics hooks.
func (c *Collector) Publisher() *PublisherMetrics {
	return &PublisherMetrics{c: c}
}

type PublisherMetrics struct{ c *Collector }

func (p *PublisherMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *PublisherMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *PublisherMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *PublisherMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

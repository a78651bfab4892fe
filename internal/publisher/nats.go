package publisher

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type NATSPublisher struct {
	nc          *nats.Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("shuttle-simulator"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn().Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info().Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info().Msg("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logSubjects: logSubjects, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// PositionMessage is published every tick for each moving shift.
type PositionMessage struct {
	ShiftID        string     `json:"shiftId"`
	RouteID        string     `json:"routeId"`
	MinibusID      string     `json:"minibusId"`
	Timestamp      time.Time  `json:"timestamp"`
	Lat            float64    `json:"lat"`
	Lon            float64    `json:"lon"`
	Progress       int        `json:"progress"`
	AvailableSeats int        `json:"availableSeats"`
	Status         string     `json:"status"`
	ArrivalTime    *time.Time `json:"arrivalTime,omitempty"`
}

// StopBoard lists the predicted arrivals at one stop, soonest shift first.
type StopBoard struct {
	StopID   string        `json:"stopId"`
	Arrivals []ArrivalItem `json:"arrivals"`
}

type ArrivalItem struct {
	ShiftID string    `json:"shiftId"`
	Arrival time.Time `json:"arrival"`
}

// ArrivalsMessage is the arrival board of a whole route after a tick.
type ArrivalsMessage struct {
	RouteID   string      `json:"routeId"`
	Timestamp time.Time   `json:"timestamp"`
	Stops     []StopBoard `json:"stops"`
}

func (p *NATSPublisher) PublishPosition(routeID, shiftID string, msg PositionMessage) error {
	return p.publish(p.subject("positions", routeID, shiftID), msg)
}

func (p *NATSPublisher) PublishArrivals(routeID string, msg ArrivalsMessage) error {
	return p.publish(p.subject("arrivals", routeID), msg)
}

func (p *NATSPublisher) subject(kind string, tokens ...string) string {
	return Subject(p.prefix, kind, tokens...)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Debug().Str("subject", subject).Msg("nats publish")
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// Subject joins prefix, kind and the sanitized tokens with dots. An empty
// prefix is omitted.
func Subject(prefix, kind string, tokens ...string) string {
	parts := make([]string, 0, len(tokens)+2)
	if p := strings.Trim(strings.TrimSpace(prefix), "."); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, kind)
	for _, t := range tokens {
		parts = append(parts, subjectToken(t))
	}
	return strings.Join(parts, ".")
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

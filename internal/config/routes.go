package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"shuttle-simulator/internal/shuttle"
	"shuttle-simulator/internal/traveltime"
)

// RoutesFile is the static data of the simulation: per-route travel-time
// tables and origin arrival rates, optionally with the stop list used to
// seed an empty store.
type RoutesFile struct {
	ArrivalRates map[string]float64 `json:"arrival_rates" validate:"dive,gte=0"`
	Routes       []RouteFile        `json:"routes" validate:"required,min=1,dive"`
}

type RouteFile struct {
	ID           string               `json:"id" validate:"required"`
	TravelTimes  map[string][]float64 `json:"travel_times" validate:"required,min=1,dive,min=1,dive,gte=0"`
	ArrivalRates map[string]float64   `json:"arrival_rates" validate:"omitempty,dive,gte=0"`
	Stops        []StopFile           `json:"stops" validate:"omitempty,dive"`
}

type StopFile struct {
	ID   string  `json:"id" validate:"required"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon  float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// RouteData is one route of the routes file in domain form.
type RouteData struct {
	RouteID string
	Travel  traveltime.Table
	Rates   traveltime.ArrivalRates
	// Route and Stops are set only when the file lists stops.
	Route *shuttle.Route
	Stops []shuttle.Stop
}

// LoadRoutes reads a YAML or JSON routes file. Hour keys are strings
// ("0".."23") so that both formats parse them the same way.
func LoadRoutes(path string) ([]RouteData, error) {
	k := koanf.New(".")
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported routes file format: %s", path)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("load routes file: %w", err)
	}
	var f RoutesFile
	if err := k.UnmarshalWithConf("", &f, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("decode routes file: %w", err)
	}
	return f.Domain()
}

// Domain validates the file and converts it to domain values.
func (f RoutesFile) Domain() ([]RouteData, error) {
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid routes file: %w", err)
	}
	defaults, err := hourRates(f.ArrivalRates)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(f.Routes))
	out := make([]RouteData, 0, len(f.Routes))
	for _, r := range f.Routes {
		if seen[r.ID] {
			return nil, fmt.Errorf("invalid routes file: route %s listed twice", r.ID)
		}
		seen[r.ID] = true

		rd := RouteData{RouteID: r.ID, Travel: make(traveltime.Table, len(r.TravelTimes))}
		for k, segs := range r.TravelTimes {
			h, err := hourKey(k)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", r.ID, err)
			}
			rd.Travel[h] = segs
		}
		if err := rd.Travel.Validate(); err != nil {
			return nil, fmt.Errorf("route %s: %w", r.ID, err)
		}

		rd.Rates = defaults
		if len(r.ArrivalRates) > 0 {
			if rd.Rates, err = hourRates(r.ArrivalRates); err != nil {
				return nil, fmt.Errorf("route %s: %w", r.ID, err)
			}
		}
		if len(rd.Rates) == 0 {
			return nil, fmt.Errorf("route %s: no arrival rates", r.ID)
		}

		if len(r.Stops) > 0 {
			route := shuttle.Route{RouteID: r.ID}
			for i, s := range r.Stops {
				route.Stops = append(route.Stops, shuttle.RouteStop{StopID: s.ID, Order: i})
				rd.Stops = append(rd.Stops, shuttle.Stop{StopID: s.ID, Name: s.Name, Latitude: s.Lat, Longitude: s.Lon})
			}
			rd.Route = &route
		}
		out = append(out, rd)
	}
	return out, nil
}

func hourRates(m map[string]float64) (traveltime.ArrivalRates, error) {
	rates := make(traveltime.ArrivalRates, len(m))
	for k, v := range m {
		h, err := hourKey(k)
		if err != nil {
			return nil, err
		}
		rates[h] = v
	}
	return rates, nil
}

func hourKey(k string) (int, error) {
	h, err := strconv.Atoi(strings.TrimSpace(k))
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour key %q", k)
	}
	return h, nil
}

// RouteIDs lists the ids in file order.
func RouteIDs(rs []RouteData) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.RouteID
	}
	return ids
}

// MissingHours returns the hours with no travel-time entry, sorted.
func (r RouteData) MissingHours() []int {
	var out []int
	for h := 0; h < 24; h++ {
		if _, ok := r.Travel[h]; !ok {
			out = append(out, h)
		}
	}
	return out
}

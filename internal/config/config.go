package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

type Config struct {
	StoreBackend  string `validate:"oneof=postgres mongo"`
	DatabaseURL   string `validate:"required_if=StoreBackend postgres"`
	DatabaseName  string // replaces the database of DatabaseURL when set
	MongoURI      string `validate:"required_if=StoreBackend mongo"`
	MongoDatabase string `validate:"required_if=StoreBackend mongo"`
	StoreRetryMax int    `validate:"gte=0,lte=20"`

	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool

	TickInterval time.Duration `validate:"gt=0"`
	RoutesFile   string        `validate:"required"`
	Location     *time.Location

	SeatCapacity      int           `validate:"gt=0"`
	BoardingRateScale float64       `validate:"gt=0"`
	MaxDepartureWait  time.Duration `validate:"gt=0"`
	MaxBoardingDwell  time.Duration `validate:"gt=0"`
	CompletedDwell    time.Duration `validate:"gte=0"`

	MetricsAddr string
	LogLevel    string `validate:"omitempty,oneof=trace debug info warn error"`
	AppEnv      string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.StoreBackend = strings.ToLower(getenvDefault("STORE_BACKEND", BackendPostgres))

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" && cfg.StoreBackend == BackendPostgres {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		if db == "" {
			return nil, errors.New("PGDATABASE or DATABASE_URL must be set")
		}
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	}
	cfg.DatabaseURL = dsn
	cfg.DatabaseName = os.Getenv("PGDATABASE")

	cfg.MongoURI = getenvDefault("MONGODB_URI", "")
	cfg.MongoDatabase = getenvDefault("MONGODB_DATABASE", "user")

	var err error
	if cfg.StoreRetryMax, err = intEnv("STORE_RETRY_MAX", 3); err != nil {
		return nil, err
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "shuttle")
	cfg.LogNATSSubjects = boolEnv("LOG_NATS_SUBJECTS")

	sec, err := intEnv("TICK_INTERVAL_SEC", 20)
	if err != nil {
		return nil, err
	}
	cfg.TickInterval = time.Duration(sec) * time.Second

	cfg.RoutesFile = getenvDefault("ROUTES_FILE", "routes.yaml")

	// Hour-of-day buckets are taken in this zone.
	loc, err := time.LoadLocation(getenvDefault("TZ", "Asia/Hong_Kong"))
	if err != nil {
		return nil, fmt.Errorf("invalid TZ: %v", err)
	}
	cfg.Location = loc

	if cfg.SeatCapacity, err = intEnv("SEAT_CAPACITY", 16); err != nil {
		return nil, err
	}
	if v := os.Getenv("BOARDING_RATE_SCALE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid BOARDING_RATE_SCALE: %q", v)
		}
		cfg.BoardingRateScale = f
	} else {
		cfg.BoardingRateScale = 1000
	}
	if cfg.MaxDepartureWait, err = minutesEnv("MAX_DEPARTURE_WAIT_MIN", 15); err != nil {
		return nil, err
	}
	if cfg.MaxBoardingDwell, err = minutesEnv("MAX_BOARDING_DWELL_MIN", 25); err != nil {
		return nil, err
	}
	if cfg.CompletedDwell, err = minutesEnv("COMPLETED_DWELL_MIN", 2); err != nil {
		return nil, err
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))
	cfg.AppEnv = getenvDefault("APP_ENV", "prod")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the ranges declared in the struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", f.Field(), f.Tag(), f.Value())
		}
		return err
	}
	return nil
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func minutesEnv(k string, def float64) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return time.Duration(def * float64(time.Minute)), nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return time.Duration(f * float64(time.Minute)), nil
}

func boolEnv(k string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}

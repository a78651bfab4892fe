package db

import (
	"fmt"
	"net/url"
	"strings"
)

// WithDBName returns dsn with its database replaced. A DSN without a scheme
// is read as postgres://.
func WithDBName(dsn, database string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	name := strings.TrimPrefix(strings.TrimSpace(database), "/")
	if name == "" {
		return "", fmt.Errorf("empty database name")
	}
	u.Path = "/" + name
	return u.String(), nil
}

package store

import (
	"fmt"
	"strings"
	"time"

	apierrors "github.com/devrev/loginspector/internal/errors"
)

// Supported drivers
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// minHeartbeatInterval is the floor the drivers accept for server monitoring
const minHeartbeatInterval = 500 * time.Millisecond

// ConnectionConfig holds everything needed to reach the backing store.
// It is passed by value and never mutated after Open.
type ConnectionConfig struct {
	Driver    string
	Host      string
	Port      int
	Username  string
	Password  string
	Namespace string
	// Schema is the Postgres schema holding one table per level
	Schema string

	ConnectTimeout                 time.Duration
	HeartbeatConnectRetryFrequency time.Duration
	HeartbeatConnectTimeout        time.Duration
	HeartbeatSocketTimeout         time.Duration
	MaxPoolSize                    int
}

// Validate reports a ConfigurationError for unusable settings
func (c ConnectionConfig) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverMongo, DriverPostgres:
	default:
		return apierrors.Configuration(fmt.Sprintf("unsupported store driver %q", c.Driver), nil)
	}

	var missing []string
	if strings.TrimSpace(c.Host) == "" {
		missing = append(missing, "host")
	}
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if strings.TrimSpace(c.Namespace) == "" {
		missing = append(missing, "namespace")
	}
	if len(missing) > 0 {
		return apierrors.Configuration("store."+strings.Join(missing, ", store.")+" required", nil)
	}
	if c.Port < 1 || c.Port > 65535 {
		return apierrors.Configuration(fmt.Sprintf("store.port must be between 1 and 65535, got %d", c.Port), nil)
	}
	if c.ConnectTimeout < 0 || c.HeartbeatConnectTimeout < 0 || c.HeartbeatSocketTimeout < 0 {
		return apierrors.Configuration("store timeouts must not be negative", nil)
	}
	return nil
}

// Address returns host:port
func (c ConnectionConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c ConnectionConfig) heartbeatInterval() time.Duration {
	if c.HeartbeatConnectRetryFrequency < minHeartbeatInterval {
		return minHeartbeatInterval
	}
	return c.HeartbeatConnectRetryFrequency
}

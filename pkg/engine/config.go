package engine

import (
	"fmt"
	"time"

	"github.com/openmission/openmission/pkg/telemetry"
)

// Config holds the runtime configuration of the mission scheduler.
type Config struct {
	// Client is the instrument resource client commands are issued
	// against. Required.
	Client InstrumentClient

	// DispatchTimeout bounds every dispatch call. A timeout surfaces
	// as a transient dispatch error, never a hang.
	DispatchTimeout time.Duration

	// ShutdownGrace bounds how long Stop waits for threads to
	// quiesce before reporting stragglers.
	ShutdownGrace time.Duration

	// Clock drives wait steps, loop sleeps, and time triggers. Nil
	// means the wall clock.
	Clock Clock

	// Logger is the structured logger. Nil disables engine logging.
	Logger *telemetry.Logger

	// Metrics is the metrics collector. Nil disables metrics.
	Metrics *telemetry.Metrics

	// Tracer is the span tracer. Nil disables tracing.
	Tracer *telemetry.Tracer

	// Events is the telemetry event publisher. Nil disables events.
	Events *telemetry.EventPublisher
}

// Default configuration values.
const (
	DefaultDispatchTimeout = 30 * time.Second
	DefaultShutdownGrace   = 30 * time.Second
)

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Client == nil {
		return fmt.Errorf("instrument client is required")
	}
	if c.DispatchTimeout < 0 {
		return fmt.Errorf("dispatch timeout must be non-negative")
	}
	if c.DispatchTimeout == 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.Clock == nil {
		c.Clock = NewClock()
	}
	return nil
}

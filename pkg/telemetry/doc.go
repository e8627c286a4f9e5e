// Package telemetry provides logging, metrics, tracing, and event
// publishing for the mission engine. It wraps zerolog for structured
// logging, Prometheus for metrics, and OpenTelemetry for distributed
// tracing, and exposes a buffered event publisher carrying the mission
// event vocabulary (mission.started, thread.state_changed,
// step.dispatched, ...).
package telemetry

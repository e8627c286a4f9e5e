package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/openmission/openmission/pkg/telemetry"
)

// ClientDispatcher adapts command steps onto an InstrumentClient. It
// serializes access per instrument so that command issuance to a
// single instrument is never interleaved across threads, while
// distinct instruments are driven fully in parallel. Every dispatch
// carries a mandatory timeout.
type ClientDispatcher struct {
	client  InstrumentClient
	timeout time.Duration
	runID   string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher
}

// NewClientDispatcher creates a dispatcher over the given client.
func NewClientDispatcher(client InstrumentClient, timeout time.Duration, runID string, logger *telemetry.Logger, metrics *telemetry.Metrics, tracer *telemetry.Tracer, events *telemetry.EventPublisher) *ClientDispatcher {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	if logger != nil {
		logger = logger.NewComponentLogger("dispatcher")
	}
	return &ClientDispatcher{
		client:  client,
		timeout: timeout,
		runID:   runID,
		locks:   make(map[string]*sync.Mutex),
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		events:  events,
	}
}

// instrumentLock returns the mutex guarding one instrument, creating
// it on first use.
func (d *ClientDispatcher) instrumentLock(instrumentID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[instrumentID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[instrumentID] = lock
	}
	return lock
}

// Dispatch issues one command step. Failures are classified but not
// acted on: retry, skip, and abort decisions belong to the policy
// engine.
func (d *ClientDispatcher) Dispatch(ctx context.Context, threadID string, step CommandStep) error {
	lock := d.instrumentLock(step.Instrument)
	lock.Lock()
	defer lock.Unlock()

	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.StartDispatchSpan(ctx, step.Instrument, step.Verb)
		defer span.End()
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.send(callCtx, step)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	if d.metrics != nil {
		d.metrics.RecordDispatch(step.Verb, status, elapsed)
	}
	if d.events != nil {
		_ = d.events.PublishStepDispatched(d.runID, threadID, step.Instrument, step.Verb, status)
	}
	if d.logger != nil {
		log := d.logger.WithThreadID(threadID).WithInstrumentID(step.Instrument)
		if err != nil {
			log.WithError(err).Warnf("dispatch %s failed after %s", step.Verb, elapsed)
		} else {
			log.Debugf("dispatched %s in %s", step.Verb, elapsed)
		}
	}
	return err
}

// send runs the client call in its own goroutine so a client that
// ignores context cancellation still cannot stall the dispatcher past
// its timeout.
func (d *ClientDispatcher) send(ctx context.Context, step CommandStep) error {
	done := make(chan error, 1)
	go func() {
		done <- d.client.Send(ctx, step.Instrument, step.Verb, step.Args)
	}()

	select {
	case err := <-done:
		return d.classify(step, err)
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return NewTransientError("dispatch timed out", ctx.Err()).
				WithCode(ErrCodeTimeout).
				WithInstrument(step.Instrument)
		}
		return NewTransientError("dispatch cancelled", ctx.Err()).
			WithCode(ErrCodeCancelled).
			WithInstrument(step.Instrument)
	}
}

// classify normalizes client errors into dispatch errors. Errors the
// client already classified pass through; everything else is treated
// as transient, since the engine cannot tell transient from permanent
// without instrument-specific knowledge.
func (d *ClientDispatcher) classify(step CommandStep, err error) error {
	if err == nil {
		return nil
	}
	if IsDispatch(err) {
		return err
	}
	return NewTransientError("instrument client failed", err).
		WithCode(ErrCodeGateway).
		WithInstrument(step.Instrument)
}

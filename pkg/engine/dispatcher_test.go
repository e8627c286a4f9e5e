package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openmission/openmission/pkg/telemetry"
)

func TestDispatcherTimeoutIsTransient(t *testing.T) {
	stall := InstrumentClientFunc(func(ctx context.Context, instrumentID, verb string, args []string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d := NewClientDispatcher(stall, 20*time.Millisecond, "run-1", nil, nil, nil, nil)

	err := d.Dispatch(context.Background(), "0", mustParse("SBE37_SIM_02, CLOCK_SYNC"))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Errorf("timeout error not transient: %v", err)
	}
	var merr *MissionError
	if !errors.As(err, &merr) || merr.Code != ErrCodeTimeout {
		t.Errorf("error code = %v, want %s", err, ErrCodeTimeout)
	}
}

func TestDispatcherPassesClassifiedErrorsThrough(t *testing.T) {
	rejected := NewPermanentError("instrument rejected command", nil).WithCode(ErrCodeRejected)
	client := InstrumentClientFunc(func(ctx context.Context, instrumentID, verb string, args []string) error {
		return rejected
	})
	d := NewClientDispatcher(client, time.Second, "run-1", nil, nil, nil, nil)

	err := d.Dispatch(context.Background(), "0", mustParse("SBE37_SIM_02, BAD_VERB"))
	if !IsPermanent(err) {
		t.Errorf("classified error not preserved: %v", err)
	}
}

func TestDispatcherWrapsUnclassifiedErrorsAsTransient(t *testing.T) {
	plain := errors.New("connection reset")
	client := InstrumentClientFunc(func(ctx context.Context, instrumentID, verb string, args []string) error {
		return plain
	})
	d := NewClientDispatcher(client, time.Second, "run-1", nil, nil, nil, nil)

	err := d.Dispatch(context.Background(), "0", mustParse("SBE37_SIM_02, CLOCK_SYNC"))
	if !IsTransient(err) {
		t.Errorf("unclassified error not wrapped transient: %v", err)
	}
	if !errors.Is(err, plain) {
		t.Errorf("underlying error lost: %v", err)
	}
}

func TestDispatcherSerializesPerInstrument(t *testing.T) {
	client := newMockClient()
	client.delay = 5 * time.Millisecond
	d := NewClientDispatcher(client, time.Second, "run-1", nil, nil, nil, nil)

	step := mustParse("SBE37_SIM_02, execute_resource(ACQUIRE_SAMPLE)")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Dispatch(context.Background(), "0", step); err != nil {
				t.Errorf("dispatch: %v", err)
			}
		}()
	}
	wg.Wait()

	if client.overlaps != 0 {
		t.Errorf("observed %d overlapping dispatches to one instrument", client.overlaps)
	}
}

func TestDispatcherParallelAcrossInstruments(t *testing.T) {
	client := newMockClient()
	client.delay = 30 * time.Millisecond
	d := NewClientDispatcher(client, time.Second, "run-1", nil, nil, nil, nil)

	start := time.Now()
	var wg sync.WaitGroup
	for _, token := range []string{
		"SBE37_SIM_01, CLOCK_SYNC",
		"SBE37_SIM_02, CLOCK_SYNC",
		"SBE37_SIM_03, CLOCK_SYNC",
	} {
		wg.Add(1)
		go func(step CommandStep) {
			defer wg.Done()
			if err := d.Dispatch(context.Background(), "0", step); err != nil {
				t.Errorf("dispatch: %v", err)
			}
		}(mustParse(token))
	}
	wg.Wait()

	// Three serialized calls would need 90ms; distinct instruments
	// run in parallel.
	if elapsed := time.Since(start); elapsed > 75*time.Millisecond {
		t.Errorf("distinct instruments serialized: took %v", elapsed)
	}
}

func TestDispatcherPublishesStepEvents(t *testing.T) {
	publisher, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 16})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}
	var got []telemetry.Event
	publisher.Subscribe(func(event telemetry.Event) {
		got = append(got, event)
	}, telemetry.FilterByType(telemetry.EventTypeStepDispatched))

	fail := errors.New("connection reset")
	client := InstrumentClientFunc(func(ctx context.Context, instrumentID, verb string, args []string) error {
		if verb == "STOP_AUTOSAMPLE" {
			return fail
		}
		return nil
	})
	d := NewClientDispatcher(client, time.Second, "run-1", nil, nil, nil, publisher)

	if err := d.Dispatch(context.Background(), "0", mustParse("SBE37_SIM_02, CLOCK_SYNC")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := d.Dispatch(context.Background(), "0", mustParse("SBE37_SIM_02, STOP_AUTOSAMPLE")); err == nil {
		t.Fatal("expected dispatch failure")
	}

	if len(got) != 2 {
		t.Fatalf("published = %d step events, want 2", len(got))
	}
	for _, ev := range got {
		if ev.RunID != "run-1" || ev.ThreadID != "0" || ev.InstrumentID != "SBE37_SIM_02" {
			t.Errorf("event associations = %+v", ev)
		}
	}
	if status := got[0].Data["status"]; status != "ok" {
		t.Errorf("first dispatch status = %v, want ok", status)
	}
	if status := got[1].Data["status"]; status != "error" {
		t.Errorf("second dispatch status = %v, want error", status)
	}
}

package engine

import (
	"context"
	"sync"
	"time"
)

// testClock is a deterministic clock. Sleeps complete instantly,
// advance the clock by the requested duration, and are recorded.
// With blockOnSleep set, Sleep instead parks until the context is
// cancelled, which models an indefinite wait.
type testClock struct {
	mu           sync.Mutex
	now          time.Time
	sleeps       []time.Duration
	blockOnSleep bool

	// blockOver parks only sleeps of at least this duration, letting
	// short waits complete instantly while long ones model a thread
	// that is genuinely suspended.
	blockOver time.Duration
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	block := c.blockOnSleep || (c.blockOver > 0 && d >= c.blockOver)
	c.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return nil
}

func (c *testClock) sleptTotal() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, d := range c.sleeps {
		total += d
	}
	return total
}

// dispatchCall records one client call.
type dispatchCall struct {
	instrument string
	verb       string
	args       []string
}

// mockClient is a scripted InstrumentClient. failures maps a verb to
// how many times it should fail before succeeding; -1 means fail
// forever. delay makes calls take real time so overlapping dispatch
// windows are observable.
type mockClient struct {
	mu       sync.Mutex
	calls    []dispatchCall
	failures map[string]int
	failErr  error
	delay    time.Duration

	// holds maps a verb to a gate channel; a Send for that verb
	// blocks until the gate is closed or the context is done.
	holds map[string]chan struct{}

	inFlight map[string]int
	overlaps int
}

func newMockClient() *mockClient {
	return &mockClient{
		failures: make(map[string]int),
		holds:    make(map[string]chan struct{}),
		inFlight: make(map[string]int),
	}
}

// hold installs a gate for a verb and returns its release function.
func (m *mockClient) hold(verb string) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	gate := make(chan struct{})
	m.holds[verb] = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (m *mockClient) Send(ctx context.Context, instrumentID, verb string, args []string) error {
	m.mu.Lock()
	gate := m.holds[verb]
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, dispatchCall{instrumentID, verb, args})
	m.inFlight[instrumentID]++
	if m.inFlight[instrumentID] > 1 {
		m.overlaps++
	}
	remaining, scripted := m.failures[verb]
	if scripted && remaining != 0 {
		if remaining > 0 {
			m.failures[verb] = remaining - 1
		}
		err := m.failErr
		if err == nil {
			err = NewTransientError("scripted failure", nil).WithCode(ErrCodeGateway)
		}
		m.mu.Unlock()
		m.settle(instrumentID)
		return err
	}
	m.mu.Unlock()
	m.settle(instrumentID)
	return nil
}

func (m *mockClient) settle(instrumentID string) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	m.inFlight[instrumentID]--
	m.mu.Unlock()
}

func (m *mockClient) callCount(verb string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.verb == verb {
			n++
		}
	}
	return n
}

func (m *mockClient) callLog() []dispatchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]dispatchCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// mustParse parses a command token or fails the test setup.
func mustParse(token string) CommandStep {
	step, err := ParseCommand(token)
	if err != nil {
		panic(err)
	}
	return step
}

// mustParseSeq builds a sequence from raw tokens.
func mustParseSeq(tokens ...string) Sequence {
	seq := make(Sequence, 0, len(tokens))
	for _, token := range tokens {
		seq = append(seq, mustParse(token))
	}
	return seq
}

// testConfig returns a scheduler config wired to the given mocks with
// telemetry disabled.
func testConfig(client InstrumentClient, clock Clock) Config {
	return Config{
		Client:          client,
		Clock:           clock,
		DispatchTimeout: 5 * time.Second,
		ShutdownGrace:   5 * time.Second,
	}
}

package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Mock Transport
// =============================================================================

type publishCall struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu sync.Mutex

	// Behaviour, set before the transport is handed out.
	connectErr   error
	connectGate  chan struct{} // when non-nil, Connect waits for it or ctx
	subscribeErr error
	publishErr   error

	clientID     string
	connected    bool
	handler      func(topic string, payload []byte)
	onDisconnect func(error)
	subscribes   []string
	unsubscribes []string
	publishes    []publishCall
	disconnects  int

	subscribedOnce sync.Once
	subscribed     chan struct{}
}

func newMockTransport() *mockTransport {
	return &mockTransport{subscribed: make(chan struct{})}
}

func (m *mockTransport) Connect(ctx context.Context) error {
	if m.connectGate != nil {
		select {
		case <-m.connectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *mockTransport) Subscribe(_ context.Context, topic string, _ byte, handler func(string, []byte)) error {
	m.mu.Lock()
	m.subscribes = append(m.subscribes, topic)
	err := m.subscribeErr
	if err == nil {
		m.handler = handler
	}
	m.mu.Unlock()

	m.subscribedOnce.Do(func() { close(m.subscribed) })
	return err
}

func (m *mockTransport) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribes = append(m.unsubscribes, topic)
	return nil
}

func (m *mockTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishes = append(m.publishes, publishCall{
		topic:    topic,
		payload:  append([]byte(nil), payload...),
		qos:      qos,
		retained: retained,
	})
	return m.publishErr
}

func (m *mockTransport) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	m.connected = false
}

func (m *mockTransport) SetOnDisconnect(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = fn
}

// deliver simulates an inbound message from the broker.
func (m *mockTransport) deliver(topic string, payload []byte) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(topic, payload)
	}
}

// drop simulates the broker closing an established connection.
func (m *mockTransport) drop(err error) {
	m.mu.Lock()
	m.connected = false
	fn := m.onDisconnect
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (m *mockTransport) publishCalls() []publishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishCall(nil), m.publishes...)
}

func (m *mockTransport) disconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

func (m *mockTransport) unsubscribeTopics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.unsubscribes...)
}

func (m *mockTransport) subscribeTopics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subscribes...)
}

func (m *mockTransport) isConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// mockFactory hands out scripted transports in order, then defaults.
type mockFactory struct {
	mu        sync.Mutex
	queue     []*mockTransport
	created   []*mockTransport
	clientIDs []string

	// liveAtCreate is the highest number of connected transports seen
	// when a new one was requested.
	liveAtCreate int
}

func (f *mockFactory) New(clientID string) Transport {
	f.mu.Lock()
	defer f.mu.Unlock()

	live := 0
	for _, tr := range f.created {
		if tr.isConnected() {
			live++
		}
	}
	if live > f.liveAtCreate {
		f.liveAtCreate = live
	}

	var tr *mockTransport
	if len(f.queue) > 0 {
		tr = f.queue[0]
		f.queue = f.queue[1:]
	} else {
		tr = newMockTransport()
	}
	tr.clientID = clientID
	f.created = append(f.created, tr)
	f.clientIDs = append(f.clientIDs, clientID)
	return tr
}

func (f *mockFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// transport waits for the i-th transport to be created and returns it.
func (f *mockFactory) transport(t *testing.T, i int) *mockTransport {
	t.Helper()
	waitFor(t, "transport creation", func() bool { return f.count() > i })
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i]
}

// =============================================================================
// Fake Clock
// =============================================================================

type fakeTimer struct {
	at time.Time
	ch chan time.Time
}

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	timers    []*fakeTimer
	requested []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.timers = append(c.timers, &fakeTimer{at: c.now.Add(d), ch: ch})
	c.requested = append(c.requested, d)
	return ch
}

// Advance moves time forward and fires every timer that is due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)

	pending := c.timers[:0]
	for _, timer := range c.timers {
		if timer.at.After(c.now) {
			pending = append(pending, timer)
			continue
		}
		timer.ch <- c.now
	}
	c.timers = pending
}

// requestCount returns how many timers of duration d were requested.
func (c *fakeClock) requestCount(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.requested {
		if r == d {
			n++
		}
	}
	return n
}

// =============================================================================
// Helpers
// =============================================================================

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type phaseRecorder struct {
	mu     sync.Mutex
	phases []Phase
}

func (r *phaseRecorder) record(p Phase) {
	r.mu.Lock()
	r.phases = append(r.phases, p)
	r.mu.Unlock()
}

func (r *phaseRecorder) snapshot() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Phase(nil), r.phases...)
}

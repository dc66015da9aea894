package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/plc-remote/internal/device"
	"github.com/nerrad567/plc-remote/internal/infrastructure/mqtt"
	"github.com/nerrad567/plc-remote/internal/state"
)

const (
	testDeviceID       = device.Identifier("AABBCCDDEEFF")
	testStatusTopic    = "plc/status/AABBCCDDEEFF"
	testControlTopic   = "plc/control/AABBCCDDEEFF"
	testConnectTimeout = 3 * time.Second
	testReconnectDelay = 5 * time.Second
	testStatusPayload  = `{"digital_in":[1,0,0,0,0,0,0,0],"analog_in":[100,200,300,400],"relays_out":[0,0,0,0,0,0,0,0]}`
)

type testHarness struct {
	session *Session
	store   *state.Store
	factory *mockFactory
	clock   *fakeClock
	phases  *phaseRecorder
}

func newHarness(t *testing.T, scripted ...*mockTransport) *testHarness {
	t.Helper()

	h := &testHarness{
		store:   state.NewStore(device.DefaultLayout()),
		factory: &mockFactory{queue: scripted},
		clock:   newFakeClock(),
		phases:  &phaseRecorder{},
	}

	sess, err := New(Options{
		DeviceID:       testDeviceID,
		Topics:         mqtt.Topics{},
		Layout:         device.DefaultLayout(),
		ClientID:       "plcremote-test",
		ConnectTimeout: testConnectTimeout,
		ReconnectDelay: testReconnectDelay,
		NewTransport:   h.factory.New,
		Store:          h.store,
		Clock:          h.clock,
		OnPhase:        h.phases.record,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.session = sess
	t.Cleanup(sess.Close)
	return h
}

func (h *testHarness) waitPhase(t *testing.T, want Phase) {
	t.Helper()
	waitFor(t, "phase "+want.String(), func() bool { return h.session.Phase() == want })
}

func (h *testHarness) startReady(t *testing.T) *mockTransport {
	t.Helper()
	if err := h.session.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.waitPhase(t, PhaseReady)
	return h.factory.transport(t, 0)
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_Validation(t *testing.T) {
	store := state.NewStore(device.DefaultLayout())
	factory := &mockFactory{}

	tests := []struct {
		name string
		opts Options
		want error
	}{
		{
			name: "invalid identifier",
			opts: Options{DeviceID: "aa:bb", Layout: device.DefaultLayout(), NewTransport: factory.New, Store: store},
			want: device.ErrInvalidIdentifier,
		},
		{
			name: "invalid layout",
			opts: Options{DeviceID: testDeviceID, NewTransport: factory.New, Store: store},
			want: device.ErrInvalidLayout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := New(Options{DeviceID: testDeviceID, Layout: device.DefaultLayout(), Store: store}); err == nil {
		t.Error("New() without transport factory succeeded")
	}
	if _, err := New(Options{DeviceID: testDeviceID, Layout: device.DefaultLayout(), NewTransport: factory.New}); err == nil {
		t.Error("New() without store succeeded")
	}
	if factory.count() != 0 {
		t.Errorf("New() created %d transports, want 0", factory.count())
	}
}

func TestSession_IdleUntilStart(t *testing.T) {
	h := newHarness(t)

	if got := h.session.Phase(); got != PhaseIdle {
		t.Errorf("Phase() = %v, want idle", got)
	}
	if h.factory.count() != 0 {
		t.Error("transport created before Start")
	}
	if got := h.session.Topics(); got.Status != testStatusTopic || got.Control != testControlTopic {
		t.Errorf("Topics() = %+v", got)
	}
}

// =============================================================================
// Handshake and Subscribe
// =============================================================================

func TestSession_ReadyAfterSubscribe(t *testing.T) {
	h := newHarness(t)
	tr := h.startReady(t)

	if got := tr.subscribeTopics(); !slices.Equal(got, []string{testStatusTopic}) {
		t.Errorf("subscribed to %v, want [%s]", got, testStatusTopic)
	}
	if !h.store.Connected() {
		t.Error("store not connected in Ready")
	}
	want := []Phase{PhaseConnecting, PhaseSubscribePending, PhaseReady}
	if got := h.phases.snapshot(); !slices.Equal(got, want) {
		t.Errorf("phases = %v, want %v", got, want)
	}
	if tr.clientID != "plcremote-test" {
		t.Errorf("client id = %q", tr.clientID)
	}
}

func TestSession_ReconnectAfterFailedHandshake(t *testing.T) {
	first := newMockTransport()
	first.connectErr = errors.New("connection refused")
	h := newHarness(t, first)

	var mu sync.Mutex
	var flags []bool
	var firstErr error
	h.store.OnChange(func(c state.Change) {
		if c.Kind != state.ChangeConnection {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if len(flags) == 0 {
			firstErr = c.Snapshot.LastError
		}
		flags = append(flags, c.Snapshot.Connected)
	})

	if err := h.session.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.waitPhase(t, PhaseReconnecting)
	waitFor(t, "backoff timer", func() bool { return h.clock.requestCount(testReconnectDelay) == 1 })
	if h.store.Connected() {
		t.Error("Connected() = true while reconnecting")
	}

	h.clock.Advance(testReconnectDelay)
	h.waitPhase(t, PhaseReady)

	want := []Phase{PhaseConnecting, PhaseReconnecting, PhaseConnecting, PhaseSubscribePending, PhaseReady}
	if got := h.phases.snapshot(); !slices.Equal(got, want) {
		t.Errorf("phases = %v, want %v", got, want)
	}
	if n := h.clock.requestCount(testReconnectDelay); n != 1 {
		t.Errorf("backoff delays = %d, want exactly 1", n)
	}

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(flags, []bool{false, true}) {
		t.Errorf("connection flags = %v, want [false true]", flags)
	}
	if !errors.Is(firstErr, ErrConnectFailed) {
		t.Errorf("LastError = %v, want ErrConnectFailed", firstErr)
	}
	if h.factory.count() != 2 {
		t.Errorf("transports created = %d, want 2", h.factory.count())
	}
}

func TestSession_ConnectTimeoutCountsAsFailure(t *testing.T) {
	stuck := newMockTransport()
	stuck.connectGate = make(chan struct{})
	h := newHarness(t, stuck)

	if err := h.session.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "connect deadline", func() bool { return h.clock.requestCount(testConnectTimeout) == 1 })

	h.clock.Advance(testConnectTimeout)
	h.waitPhase(t, PhaseReconnecting)

	lastErr := h.store.Snapshot().LastError
	if !errors.Is(lastErr, ErrConnectFailed) || !strings.Contains(lastErr.Error(), "timeout") {
		t.Errorf("LastError = %v, want connect timeout", lastErr)
	}

	waitFor(t, "backoff timer", func() bool { return h.clock.requestCount(testReconnectDelay) == 1 })
	h.clock.Advance(testReconnectDelay)
	h.waitPhase(t, PhaseReady)
}

func TestSession_SubscribeFailureRetries(t *testing.T) {
	first := newMockTransport()
	first.subscribeErr = errors.New("not authorised")
	h := newHarness(t, first)

	if err := h.session.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.waitPhase(t, PhaseReconnecting)

	if !errors.Is(h.store.Snapshot().LastError, ErrConnectFailed) {
		t.Errorf("LastError = %v, want ErrConnectFailed", h.store.Snapshot().LastError)
	}
	waitFor(t, "failed transport released", func() bool { return first.disconnectCount() == 1 })
}

func TestSession_ConnectionLost(t *testing.T) {
	h := newHarness(t)
	tr := h.startReady(t)

	tr.drop(errors.New("EOF"))
	h.waitPhase(t, PhaseReconnecting)

	if h.store.Connected() {
		t.Error("Connected() = true after connection lost")
	}
	if !errors.Is(h.store.Snapshot().LastError, ErrConnectionLost) {
		t.Errorf("LastError = %v, want ErrConnectionLost", h.store.Snapshot().LastError)
	}

	// Messages from the dead connection are ignored.
	tr.deliver(testStatusTopic, []byte(testStatusPayload))

	waitFor(t, "backoff timer", func() bool { return h.clock.requestCount(testReconnectDelay) == 1 })
	h.clock.Advance(testReconnectDelay)
	h.waitPhase(t, PhaseReady)

	if !h.store.LatestState().Equal(device.ZeroState(device.DefaultLayout())) {
		t.Errorf("state updated from a dropped connection: %+v", h.store.LatestState())
	}
	if tr.disconnectCount() != 1 {
		t.Errorf("old transport disconnects = %d, want 1", tr.disconnectCount())
	}
}

// =============================================================================
// Inbound Status
// =============================================================================

func TestSession_StatusUpdatesStateAndCommandPublishes(t *testing.T) {
	h := newHarness(t)
	tr := h.startReady(t)

	tr.deliver(testStatusTopic, []byte(testStatusPayload))

	want := device.State{
		DigitalInputs: []int{1, 0, 0, 0, 0, 0, 0, 0},
		AnalogInputs:  []int{100, 200, 300, 400},
		Relays:        []int{0, 0, 0, 0, 0, 0, 0, 0},
	}
	waitFor(t, "state update", func() bool { return h.store.LatestState().Equal(want) })

	cmd, err := device.NewCommand(device.DefaultLayout(), 0, true)
	if err != nil {
		t.Fatalf("NewCommand() error = %v", err)
	}
	if err := h.session.Publish(context.Background(), cmd); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	calls := tr.publishCalls()
	if len(calls) != 1 {
		t.Fatalf("publish calls = %d, want 1", len(calls))
	}
	if calls[0].topic != testControlTopic {
		t.Errorf("topic = %q, want %q", calls[0].topic, testControlTopic)
	}
	if string(calls[0].payload) != `{"relay":0,"state":1}` {
		t.Errorf("payload = %s", calls[0].payload)
	}
	if calls[0].retained {
		t.Error("command published retained")
	}
}

func TestSession_DecodeFailureKeepsConnection(t *testing.T) {
	h := newHarness(t)
	tr := h.startReady(t)

	tr.deliver(testStatusTopic, []byte(`not json`))
	tr.deliver(testStatusTopic, []byte(`{"uptime":1234}`))
	waitFor(t, "decode failures", func() bool { return h.session.DecodeFailures() == 2 })

	if !h.store.Connected() {
		t.Error("decode failure changed the connection flag")
	}
	if h.session.Phase() != PhaseReady {
		t.Errorf("Phase() = %v after decode failure", h.session.Phase())
	}

	tr.deliver(testStatusTopic, []byte(testStatusPayload))
	waitFor(t, "state update", func() bool { return h.store.LatestState().DigitalInputs[0] == 1 })
}

func TestSession_IgnoresOtherTopics(t *testing.T) {
	h := newHarness(t)
	tr := h.startReady(t)

	tr.deliver("plc/status/000000000000", []byte(testStatusPayload))
	tr.deliver(testStatusTopic, []byte(`garbage`))
	waitFor(t, "decode failure", func() bool { return h.session.DecodeFailures() == 1 })

	if !h.store.LatestState().Equal(device.ZeroState(device.DefaultLayout())) {
		t.Errorf("state updated from foreign topic: %+v", h.store.LatestState())
	}
}

// =============================================================================
// Publish
// =============================================================================

func TestSession_PublishOutsideReady(t *testing.T) {
	cmd := device.Command{Relay: 0, On: true}

	t.Run("idle", func(t *testing.T) {
		h := newHarness(t)
		if err := h.session.Publish(context.Background(), cmd); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Publish() error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("connecting", func(t *testing.T) {
		stuck := newMockTransport()
		stuck.connectGate = make(chan struct{})
		h := newHarness(t, stuck)
		if err := h.session.Start(); err != nil {
			t.Fatalf("Start() error = %v", err)
		}

		if err := h.session.Publish(context.Background(), cmd); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Publish() error = %v, want ErrNotConnected", err)
		}
		if n := len(stuck.publishCalls()); n != 0 {
			t.Errorf("transport publish calls = %d, want 0", n)
		}
	})

	t.Run("reconnecting", func(t *testing.T) {
		failing := newMockTransport()
		failing.connectErr = errors.New("refused")
		h := newHarness(t, failing)
		if err := h.session.Start(); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		h.waitPhase(t, PhaseReconnecting)

		if err := h.session.Publish(context.Background(), cmd); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Publish() error = %v, want ErrNotConnected", err)
		}
		if n := len(failing.publishCalls()); n != 0 {
			t.Errorf("transport publish calls = %d, want 0", n)
		}
	})
}

func TestSession_DuplicatePublishesAreIdentical(t *testing.T) {
	h := newHarness(t)
	tr := h.startReady(t)

	cmd := device.Command{Relay: 2, On: true}
	for i := 0; i < 2; i++ {
		if err := h.session.Publish(context.Background(), cmd); err != nil {
			t.Fatalf("Publish() #%d error = %v", i+1, err)
		}
	}

	calls := tr.publishCalls()
	if len(calls) != 2 {
		t.Fatalf("publish calls = %d, want 2", len(calls))
	}
	if string(calls[0].payload) != string(calls[1].payload) {
		t.Errorf("payloads differ: %s vs %s", calls[0].payload, calls[1].payload)
	}
	if string(calls[0].payload) != `{"relay":2,"state":1}` {
		t.Errorf("payload = %s", calls[0].payload)
	}
}

func TestSession_PublishInvalidCommand(t *testing.T) {
	h := newHarness(t)
	tr := h.startReady(t)

	err := h.session.Publish(context.Background(), device.Command{Relay: 8, On: true})
	if !errors.Is(err, device.ErrInvalidCommand) {
		t.Errorf("Publish() error = %v, want ErrInvalidCommand", err)
	}
	if n := len(tr.publishCalls()); n != 0 {
		t.Errorf("publish calls = %d, want 0", n)
	}
}

func TestSession_PublishTransportError(t *testing.T) {
	tr := newMockTransport()
	tr.publishErr = errors.New("write: broken pipe")
	h := newHarness(t, tr)
	h.startReady(t)

	err := h.session.Publish(context.Background(), device.Command{Relay: 1})
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

// =============================================================================
// Close
// =============================================================================

func TestSession_CloseReleasesTransport(t *testing.T) {
	h := newHarness(t)
	tr := h.startReady(t)

	h.session.Close()

	if got := h.session.Phase(); got != PhaseClosed {
		t.Errorf("Phase() = %v, want closed", got)
	}
	if got := tr.unsubscribeTopics(); !slices.Equal(got, []string{testStatusTopic}) {
		t.Errorf("unsubscribed = %v, want [%s]", got, testStatusTopic)
	}
	if tr.disconnectCount() != 1 {
		t.Errorf("disconnects = %d, want 1", tr.disconnectCount())
	}
	if h.store.Connected() {
		t.Error("Connected() = true after Close")
	}

	if err := h.session.Publish(context.Background(), device.Command{Relay: 0}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Publish() after Close error = %v, want ErrSessionClosed", err)
	}
	if err := h.session.Start(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Start() after Close error = %v, want ErrSessionClosed", err)
	}

	// Late transport events are no-ops.
	tr.deliver(testStatusTopic, []byte(testStatusPayload))
	tr.drop(errors.New("EOF"))
	h.session.Close()

	if tr.disconnectCount() != 1 {
		t.Errorf("disconnects after late events = %d, want 1", tr.disconnectCount())
	}
}

func TestSession_CloseWhileConnecting(t *testing.T) {
	stuck := newMockTransport()
	stuck.connectGate = make(chan struct{})
	h := newHarness(t, stuck)

	if err := h.session.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.session.Close()

	select {
	case <-h.session.Done():
	default:
		t.Fatal("Done() not closed after Close")
	}
	if got := h.session.Phase(); got != PhaseClosed {
		t.Errorf("Phase() = %v, want closed", got)
	}
}

func TestSession_CloseBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.session.Close()

	if got := h.session.Phase(); got != PhaseClosed {
		t.Errorf("Phase() = %v, want closed", got)
	}
	if err := h.session.Start(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Start() error = %v, want ErrSessionClosed", err)
	}
	if h.factory.count() != 0 {
		t.Error("transport created for a session closed before start")
	}
}

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseIdle, "idle"},
		{PhaseConnecting, "connecting"},
		{PhaseSubscribePending, "subscribe_pending"},
		{PhaseReady, "ready"},
		{PhaseReconnecting, "reconnecting"},
		{PhaseClosed, "closed"},
		{Phase(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
		text, _ := tt.phase.MarshalText()
		if string(text) != tt.want {
			t.Errorf("Phase(%d).MarshalText() = %q, want %q", tt.phase, text, tt.want)
		}
	}
}

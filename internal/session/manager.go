package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nerrad567/plc-remote/internal/device"
	"github.com/nerrad567/plc-remote/internal/infrastructure/mqtt"
	"github.com/nerrad567/plc-remote/internal/state"
)

// ManagerOptions configures a Manager. The fields mirror Options and are
// copied into every Session the Manager creates.
type ManagerOptions struct {
	Topics         mqtt.Topics
	Layout         device.Layout
	QoS            byte
	ClientIDPrefix string
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	ProbeTimeout   time.Duration

	NewTransport TransportFactory
	Clock        Clock
	Logger       Logger
}

// Status is a point-in-time summary of the manager for display.
type Status struct {
	DeviceID       device.Identifier
	Bound          bool
	Phase          Phase
	Connected      bool
	LastError      error
	State          device.State
	UpdatedAt      time.Time
	DecodeFailures uint64
}

// Manager keeps at most one live Session and owns the State Store it
// writes to.
type Manager struct {
	opts   ManagerOptions
	store  *state.Store
	prober *Prober
	logger Logger

	mu      sync.Mutex
	current *Session
	closed  bool
}

// NewManager returns a Manager with no device bound.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.NewTransport == nil {
		return nil, errors.New("session: transport factory is required")
	}
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	prober, err := NewProber(ProberOptions{
		Topics:         opts.Topics,
		Layout:         opts.Layout,
		QoS:            opts.QoS,
		ClientIDPrefix: opts.ClientIDPrefix,
		NewTransport:   opts.NewTransport,
		Clock:          opts.Clock,
		Logger:         opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Manager{
		opts:   opts,
		store:  state.NewStore(opts.Layout),
		prober: prober,
		logger: opts.Logger,
	}, nil
}

// Layout returns the I/O layout of the device class.
func (m *Manager) Layout() device.Layout { return m.opts.Layout }

// Topics returns the topic builder sessions are created with.
func (m *Manager) Topics() mqtt.Topics { return m.opts.Topics }

// Bind starts a standing session for raw. Binding the identifier that is
// already bound is a no-op; binding another one closes the current
// session first, so two sessions never overlap.
func (m *Manager) Bind(raw string) (device.Identifier, error) {
	id, err := device.ParseIdentifier(raw)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrSessionClosed
	}
	if m.current != nil && m.current.DeviceID() == id && m.current.Phase() != PhaseClosed {
		return id, nil
	}
	m.closeCurrentLocked()

	sess, err := New(Options{
		DeviceID:       id,
		Topics:         m.opts.Topics,
		Layout:         m.opts.Layout,
		QoS:            m.opts.QoS,
		ClientID:       mqtt.NewClientID(m.opts.ClientIDPrefix),
		ConnectTimeout: m.opts.ConnectTimeout,
		ReconnectDelay: m.opts.ReconnectDelay,
		NewTransport:   m.opts.NewTransport,
		Store:          m.store,
		Clock:          m.opts.Clock,
		Logger:         m.logger,
	})
	if err != nil {
		return "", err
	}

	m.store.Reset(id, m.opts.Layout)
	if err := sess.Start(); err != nil {
		return "", err
	}
	m.current = sess

	m.logger.Info("device bound", "device_id", id, "control_topic", sess.Topics().Control)
	return id, nil
}

// Unbind closes the current session, if any, and resets the store.
func (m *Manager) Unbind() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return
	}
	id := m.current.DeviceID()
	m.closeCurrentLocked()
	m.store.Reset("", m.opts.Layout)
	m.logger.Info("device unbound", "device_id", id)
}

func (m *Manager) closeCurrentLocked() {
	if m.current == nil {
		return
	}
	m.current.Close()
	m.current = nil
}

// Close unbinds and refuses further binds.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.current == nil {
		return
	}
	id := m.current.DeviceID()
	m.closeCurrentLocked()
	m.store.Reset("", m.opts.Layout)
	m.logger.Info("device unbound", "device_id", id)
}

func (m *Manager) session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// DeviceID returns the bound identifier, if any.
func (m *Manager) DeviceID() (device.Identifier, bool) {
	if s := m.session(); s != nil {
		return s.DeviceID(), true
	}
	return "", false
}

// Connected reports whether the bound session is Ready.
func (m *Manager) Connected() bool {
	return m.store.Connected()
}

// LatestState returns a copy of the last decoded state.
func (m *Manager) LatestState() device.State {
	return m.store.LatestState()
}

// Status summarises the binding, phase and latest snapshot.
func (m *Manager) Status() Status {
	snap := m.store.Snapshot()
	st := Status{
		Phase:     PhaseIdle,
		Connected: snap.Connected,
		LastError: snap.LastError,
		State:     snap.State,
		UpdatedAt: snap.UpdatedAt,
	}
	if s := m.session(); s != nil {
		st.DeviceID = s.DeviceID()
		st.Bound = true
		st.Phase = s.Phase()
		st.DecodeFailures = s.DecodeFailures()
	}
	return st
}

// IssueCommand publishes cmd through the bound session. With no device
// bound it fails with ErrNotConnected.
func (m *Manager) IssueCommand(ctx context.Context, cmd device.Command) error {
	s := m.session()
	if s == nil {
		if err := cmd.Validate(m.opts.Layout); err != nil {
			return err
		}
		return ErrNotConnected
	}
	if err := s.Publish(ctx, cmd); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			// Unbound while the command was in flight.
			return ErrNotConnected
		}
		return err
	}
	return nil
}

// OnChange registers an observer on the store. Observers may run while
// the manager lock is held and must not call back into the Manager. Use
// Snapshot.DeviceID for the bound device.
func (m *Manager) OnChange(fn state.Observer) (cancel func()) {
	return m.store.OnChange(fn)
}

// Probe validates raw and runs a presence probe. A zero timeout uses the
// configured probe timeout.
func (m *Manager) Probe(ctx context.Context, raw string, timeout time.Duration) (ProbeResult, error) {
	id, err := device.ParseIdentifier(raw)
	if err != nil {
		return ProbeResult{}, err
	}
	if timeout <= 0 {
		timeout = m.opts.ProbeTimeout
	}
	return m.prober.Probe(ctx, id, timeout), nil
}

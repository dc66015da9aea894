package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/plc-remote/internal/device"
	"github.com/nerrad567/plc-remote/internal/infrastructure/mqtt"
	"github.com/nerrad567/plc-remote/internal/state"
)

// Defaults applied by New when Options leaves a field zero.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReconnectDelay = 5 * time.Second

	// inboundBuffer absorbs bursts of status messages while the loop is
	// busy with a publish.
	inboundBuffer = 64
)

// Options configures a Session.
type Options struct {
	DeviceID device.Identifier
	Topics   mqtt.Topics
	Layout   device.Layout
	QoS      byte

	// ClientID is presented to the broker on every attempt of this session.
	ClientID string

	ConnectTimeout time.Duration
	ReconnectDelay time.Duration

	NewTransport TransportFactory
	Store        *state.Store
	Clock        Clock
	Logger       Logger

	// OnPhase, if set, is called on the session goroutine after every
	// phase change.
	OnPhase func(Phase)
}

// Session is one SessionHandle bound to a single device identifier.
type Session struct {
	opts   Options
	topics mqtt.TopicPair
	clock  Clock
	logger Logger

	phase          atomic.Int32
	decodeFailures atomic.Uint64

	// events is unbuffered so a result is either handled by the loop or
	// refused because the session is closing, never stranded.
	events  chan any
	inbound chan inboundMessage
	quit    chan struct{}
	done    chan struct{}

	lifecycle sync.Mutex
	started   bool
	closed    bool

	// Owned by the run goroutine.
	attempt       uint64
	transport     Transport
	cancelAttempt context.CancelFunc
	deadline      <-chan time.Time
	retry         <-chan time.Time
}

type connectResult struct {
	attempt   uint64
	transport Transport
	err       error
}

type subscribeResult struct {
	attempt uint64
	err     error
}

type inboundMessage struct {
	attempt uint64
	topic   string
	payload []byte
}

type connectionLost struct {
	attempt uint64
	err     error
}

type publishRequest struct {
	cmd   device.Command
	reply chan error
}

// New validates opts and returns an Idle session. Call Start to connect.
func New(opts Options) (*Session, error) {
	if !opts.DeviceID.Valid() {
		return nil, fmt.Errorf("%w: %q", device.ErrInvalidIdentifier, opts.DeviceID)
	}
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}
	if opts.NewTransport == nil {
		return nil, errors.New("session: transport factory is required")
	}
	if opts.Store == nil {
		return nil, errors.New("session: state store is required")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.ClientID == "" {
		opts.ClientID = mqtt.NewClientID("plcremote")
	}

	s := &Session{
		opts:    opts,
		topics:  opts.Topics.Pair(opts.DeviceID),
		clock:   opts.Clock,
		logger:  opts.Logger,
		events:  make(chan any),
		inbound: make(chan inboundMessage, inboundBuffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if s.clock == nil {
		s.clock = SystemClock
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s, nil
}

// DeviceID returns the bound identifier.
func (s *Session) DeviceID() device.Identifier { return s.opts.DeviceID }

// Topics returns the status and control topics of the bound device.
func (s *Session) Topics() mqtt.TopicPair { return s.topics }

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

// DecodeFailures counts status payloads rejected by the codec.
func (s *Session) DecodeFailures() uint64 { return s.decodeFailures.Load() }

// Done is closed once the session has reached Closed and released its
// transport.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start moves the session from Idle to Connecting. Calling it again is a
// no-op; after Close it returns ErrSessionClosed.
func (s *Session) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return nil
	}
	s.started = true

	s.beginAttempt()
	go s.run()
	return nil
}

// Close tears the session down from any phase and waits until the
// subscription and connection are released. It is idempotent.
func (s *Session) Close() {
	s.lifecycle.Lock()
	if !s.closed {
		s.closed = true
		close(s.quit)
		if !s.started {
			s.setPhase(PhaseClosed)
			close(s.done)
		}
	}
	s.lifecycle.Unlock()

	<-s.done
}

// Publish sends cmd to the control topic.
//
// Invalid commands fail with device.ErrInvalidCommand before anything is
// queued. Outside Ready the call fails with ErrNotConnected and nothing
// is written to the transport.
func (s *Session) Publish(ctx context.Context, cmd device.Command) error {
	if err := cmd.Validate(s.opts.Layout); err != nil {
		return err
	}
	switch s.Phase() {
	case PhaseClosed:
		return ErrSessionClosed
	case PhaseReady:
	default:
		return ErrNotConnected
	}

	req := publishRequest{cmd: cmd, reply: make(chan error, 1)}
	if !s.post(req) {
		return ErrSessionClosed
	}

	select {
	case err := <-req.reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post hands an event to the loop. It reports false once the session is
// closing.
func (s *Session) post(ev any) bool {
	select {
	case <-s.quit:
		return false
	default:
	}

	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

func (s *Session) postInbound(msg inboundMessage) {
	select {
	case <-s.quit:
	case s.inbound <- msg:
	}
}

func (s *Session) run() {
	defer close(s.done)

	for {
		select {
		case <-s.quit:
			s.shutdown()
			return
		case ev := <-s.events:
			s.handle(ev)
		case msg := <-s.inbound:
			s.handleInbound(msg)
		case <-s.retry:
			s.retry = nil
			s.beginAttempt()
		case <-s.deadline:
			s.deadline = nil
			s.connectTimedOut()
		}
	}
}

func (s *Session) handle(ev any) {
	switch ev := ev.(type) {
	case connectResult:
		s.handleConnectResult(ev)
	case subscribeResult:
		s.handleSubscribeResult(ev)
	case connectionLost:
		s.handleConnectionLost(ev)
	case publishRequest:
		s.handlePublish(ev)
	}
}

func (s *Session) beginAttempt() {
	s.attempt++
	attempt := s.attempt
	s.setPhase(PhaseConnecting)

	tr := s.opts.NewTransport(s.opts.ClientID)
	tr.SetOnDisconnect(func(err error) {
		s.post(connectionLost{attempt: attempt, err: err})
	})

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
	s.cancelAttempt = cancel
	s.deadline = s.clock.After(s.opts.ConnectTimeout)

	s.logger.Debug("session connecting",
		"device_id", s.opts.DeviceID,
		"attempt", attempt,
		"client_id", s.opts.ClientID,
	)

	go func() {
		err := tr.Connect(ctx)
		if !s.post(connectResult{attempt: attempt, transport: tr, err: err}) && err == nil {
			tr.Disconnect()
		}
	}()
}

func (s *Session) handleConnectResult(ev connectResult) {
	if ev.attempt != s.attempt || s.Phase() != PhaseConnecting {
		if ev.err == nil {
			ev.transport.Disconnect()
		}
		return
	}

	s.endAttempt()
	if ev.err != nil {
		s.scheduleRetry(fmt.Errorf("%w: %w", ErrConnectFailed, ev.err))
		return
	}

	s.transport = ev.transport
	s.setPhase(PhaseSubscribePending)

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
	s.cancelAttempt = cancel

	tr, attempt, topic := ev.transport, s.attempt, s.topics.Status
	go func() {
		err := tr.Subscribe(ctx, topic, s.opts.QoS, func(topic string, payload []byte) {
			s.postInbound(inboundMessage{attempt: attempt, topic: topic, payload: payload})
		})
		s.post(subscribeResult{attempt: attempt, err: err})
	}()
}

func (s *Session) connectTimedOut() {
	if s.Phase() != PhaseConnecting {
		return
	}
	// Whatever the abandoned handshake reports from now on is stale.
	s.attempt++
	s.endAttempt()
	s.scheduleRetry(fmt.Errorf("%w: timeout after %v", ErrConnectFailed, s.opts.ConnectTimeout))
}

func (s *Session) handleSubscribeResult(ev subscribeResult) {
	if ev.attempt != s.attempt || s.Phase() != PhaseSubscribePending {
		return
	}

	s.endAttempt()
	if ev.err != nil {
		s.releaseTransport(false)
		s.scheduleRetry(fmt.Errorf("%w: subscribe %s: %w", ErrConnectFailed, s.topics.Status, ev.err))
		return
	}

	s.setPhase(PhaseReady)
	s.opts.Store.SetConnection(true, nil)
	s.logger.Info("session ready",
		"device_id", s.opts.DeviceID,
		"status_topic", s.topics.Status,
	)
}

func (s *Session) handleInbound(ev inboundMessage) {
	if ev.attempt != s.attempt || s.Phase() != PhaseReady {
		return
	}
	if ev.topic != s.topics.Status {
		return
	}

	st, err := device.DecodeStatus(s.opts.Layout, ev.payload)
	if err != nil {
		s.decodeFailures.Add(1)
		s.logger.Warn("status payload rejected",
			"device_id", s.opts.DeviceID,
			"error", err,
		)
		return
	}
	s.opts.Store.SetState(st)
}

func (s *Session) handleConnectionLost(ev connectionLost) {
	if ev.attempt != s.attempt {
		return
	}
	switch s.Phase() {
	case PhaseSubscribePending, PhaseReady:
	default:
		return
	}

	s.endAttempt()
	s.releaseTransport(false)
	s.scheduleRetry(fmt.Errorf("%w: %w", ErrConnectionLost, ev.err))
}

func (s *Session) handlePublish(req publishRequest) {
	if s.Phase() != PhaseReady || s.transport == nil {
		req.reply <- ErrNotConnected
		return
	}

	payload := device.EncodeCommand(req.cmd)
	if err := s.transport.Publish(s.topics.Control, payload, s.opts.QoS, false); err != nil {
		req.reply <- fmt.Errorf("%w: %w", ErrPublishFailed, err)
		return
	}

	s.logger.Debug("command published",
		"device_id", s.opts.DeviceID,
		"command", req.cmd.String(),
	)
	req.reply <- nil
}

// scheduleRetry records err, drops the connection flag and arms the
// fixed-delay reconnect timer.
func (s *Session) scheduleRetry(err error) {
	s.setPhase(PhaseReconnecting)
	s.opts.Store.SetConnection(false, err)
	s.retry = s.clock.After(s.opts.ReconnectDelay)

	s.logger.Warn("session disconnected, retry scheduled",
		"device_id", s.opts.DeviceID,
		"error", err,
		"retry_in", s.opts.ReconnectDelay,
	)
}

func (s *Session) endAttempt() {
	if s.cancelAttempt != nil {
		s.cancelAttempt()
		s.cancelAttempt = nil
	}
	s.deadline = nil
}

func (s *Session) releaseTransport(unsubscribe bool) {
	if s.transport == nil {
		return
	}
	if unsubscribe {
		if err := s.transport.Unsubscribe(s.topics.Status); err != nil {
			s.logger.Debug("unsubscribe failed during teardown",
				"device_id", s.opts.DeviceID,
				"error", err,
			)
		}
	}
	s.transport.Disconnect()
	s.transport = nil
}

func (s *Session) shutdown() {
	phase := s.Phase()

	s.endAttempt()
	s.retry = nil
	s.releaseTransport(phase == PhaseReady || phase == PhaseSubscribePending)
	s.setPhase(PhaseClosed)

	if phase == PhaseReady {
		s.opts.Store.SetConnection(false, nil)
	}
	s.logger.Info("session closed", "device_id", s.opts.DeviceID)
}

func (s *Session) setPhase(p Phase) {
	old := Phase(s.phase.Swap(int32(p)))
	if old == p {
		return
	}
	if s.opts.OnPhase != nil {
		s.opts.OnPhase(p)
	}
}

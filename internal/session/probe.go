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
)

// DefaultProbeTimeout bounds a probe when the caller passes zero.
const DefaultProbeTimeout = 5 * time.Second

// ProbeResult is the outcome of one presence probe.
type ProbeResult struct {
	BrokerReachable bool `json:"broker_reachable"`
	DeviceOnline    bool `json:"device_online"`
}

// ProberOptions configures a Prober.
type ProberOptions struct {
	Topics mqtt.Topics
	Layout device.Layout
	QoS    byte

	// ClientIDPrefix is extended with "-probe-<random>" for every probe.
	ClientIDPrefix string

	NewTransport TransportFactory
	Clock        Clock
	Logger       Logger
}

// Prober checks whether a candidate device is publishing before a
// standing session is bound to it. Each Probe uses its own throwaway
// transport, so probes may run alongside a live Session.
type Prober struct {
	opts   ProberOptions
	clock  Clock
	logger Logger
}

// NewProber returns a Prober.
func NewProber(opts ProberOptions) (*Prober, error) {
	if opts.NewTransport == nil {
		return nil, errors.New("session: transport factory is required")
	}
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}

	p := &Prober{opts: opts, clock: opts.Clock, logger: opts.Logger}
	if p.clock == nil {
		p.clock = SystemClock
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p, nil
}

// Probe connects, subscribes to id's status topic and waits for the
// first status payload that decodes, or for timeout.
//
//   - handshake fails, or timeout elapses during it: {false, false}
//   - a valid status payload arrives first:           {true, true}
//   - timeout elapses after the handshake:            {true, false}
//
// The timeout covers the whole probe. The transport is torn down exactly
// once on every path.
func (p *Prober) Probe(ctx context.Context, id device.Identifier, timeout time.Duration) ProbeResult {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	deadline := p.clock.After(timeout)

	prefix := p.opts.ClientIDPrefix
	if prefix == "" {
		prefix = "plcremote"
	}
	tr := p.opts.NewTransport(mqtt.NewClientID(prefix + "-probe"))
	status := p.opts.Topics.Status(id)
	logArgs := []any{"device_id", id, "client_id_prefix", prefix}

	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	handshake := make(chan error, 1)
	go func() {
		handshake <- tr.Connect(probeCtx)
	}()

	var once sync.Once
	teardown := func(connected bool) {
		once.Do(func() {
			cancel()
			if connected {
				_ = tr.Unsubscribe(status)
				tr.Disconnect()
			}
		})
	}

	select {
	case err := <-handshake:
		if err != nil {
			teardown(false)
			p.logger.Info("probe: broker unreachable", append(logArgs, "error", err)...)
			return ProbeResult{}
		}
	case <-deadline:
		abandonHandshake(tr, handshake, teardown)
		p.logger.Info("probe: handshake timed out", append(logArgs, "timeout", timeout)...)
		return ProbeResult{}
	case <-ctx.Done():
		abandonHandshake(tr, handshake, teardown)
		return ProbeResult{}
	}
	defer teardown(true)

	online := make(chan struct{}, 1)
	subscribed := make(chan error, 1)
	go func() {
		subscribed <- tr.Subscribe(probeCtx, status, p.opts.QoS, func(topic string, payload []byte) {
			if topic != status {
				return
			}
			if _, err := device.DecodeStatus(p.opts.Layout, payload); err != nil {
				p.logger.Debug("probe: ignoring undecodable status", append(logArgs, "error", err)...)
				return
			}
			select {
			case online <- struct{}{}:
			default:
			}
		})
	}()

	for {
		select {
		case <-online:
			p.logger.Info("probe: device online", logArgs...)
			return ProbeResult{BrokerReachable: true, DeviceOnline: true}
		case err := <-subscribed:
			if err != nil {
				p.logger.Warn("probe: subscribe failed", append(logArgs, "error", err)...)
				return ProbeResult{BrokerReachable: true}
			}
			subscribed = nil
		case <-deadline:
			p.logger.Info("probe: device silent", append(logArgs, "timeout", timeout)...)
			return ProbeResult{BrokerReachable: true}
		case <-ctx.Done():
			return ProbeResult{BrokerReachable: true}
		}
	}
}

// abandonHandshake cancels a pending handshake and disconnects the
// transport if it completes anyway.
func abandonHandshake(tr Transport, handshake <-chan error, teardown func(bool)) {
	teardown(false)
	go func() {
		if err := <-handshake; err == nil {
			tr.Disconnect()
		}
	}()
}

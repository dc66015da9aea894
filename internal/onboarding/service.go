package onboarding

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nerrad567/plc-remote/internal/device"
	"github.com/nerrad567/plc-remote/internal/session"
)

// Binder is the part of session.Manager onboarding needs.
type Binder interface {
	Probe(ctx context.Context, raw string, timeout time.Duration) (session.ProbeResult, error)
	Bind(raw string) (device.Identifier, error)
}

// Logger is the logging interface used by the service.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// ConnectOptions tunes a single Connect call.
type ConnectOptions struct {
	// SkipProbe binds without checking presence first.
	SkipProbe bool

	// ProbeTimeout overrides the configured probe timeout when positive.
	ProbeTimeout time.Duration
}

// Result describes a successful Connect.
type Result struct {
	DeviceID device.Identifier `json:"device_id"`

	// Probe is nil when the probe was skipped.
	Probe *session.ProbeResult `json:"probe,omitempty"`
}

// Service runs the onboarding flow.
type Service struct {
	binder Binder
	recent RecentRepository
	logger Logger
}

// NewService returns a Service. recent may be nil, in which case no
// history is kept.
func NewService(binder Binder, recent RecentRepository, logger Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{binder: binder, recent: recent, logger: logger}
}

// Connect validates raw, probes it unless opts.SkipProbe is set, then
// binds it as the standing session and records it in the history.
func (s *Service) Connect(ctx context.Context, raw string, opts ConnectOptions) (Result, error) {
	id, err := device.ParseIdentifier(raw)
	if err != nil {
		return Result{}, err
	}

	var result Result
	if !opts.SkipProbe {
		probe, err := s.binder.Probe(ctx, string(id), opts.ProbeTimeout)
		if err != nil {
			return Result{}, err
		}
		switch {
		case !probe.BrokerReachable:
			return Result{}, ErrBrokerUnreachable
		case !probe.DeviceOnline:
			return Result{}, fmt.Errorf("%w: %s", ErrDeviceOffline, id)
		}
		result.Probe = &probe
	}

	bound, err := s.binder.Bind(string(id))
	if err != nil {
		return Result{}, err
	}
	result.DeviceID = bound

	if s.recent != nil {
		if err := s.recent.Touch(ctx, bound); err != nil {
			// The session is already bound; losing a history entry is not fatal.
			s.logger.Warn("recording recent device failed", "device_id", bound, "error", err)
		}
	}

	s.logger.Info("device onboarded", "device_id", bound, "probed", !opts.SkipProbe)
	return result, nil
}

// Recent lists the history newest first. It is empty when no repository
// is configured.
func (s *Service) Recent(ctx context.Context) ([]RecentDevice, error) {
	if s.recent == nil {
		return []RecentDevice{}, nil
	}
	return s.recent.List(ctx)
}

// Forget removes raw from the history.
func (s *Service) Forget(ctx context.Context, raw string) error {
	id, err := device.ParseIdentifier(raw)
	if err != nil {
		return err
	}
	if s.recent == nil {
		return ErrRecentNotFound
	}
	return s.recent.Remove(ctx, id)
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/plc-remote/internal/device"
	"github.com/nerrad567/plc-remote/internal/infrastructure/config"
	"github.com/nerrad567/plc-remote/internal/infrastructure/logging"
	"github.com/nerrad567/plc-remote/internal/onboarding"
	"github.com/nerrad567/plc-remote/internal/session"
	"github.com/nerrad567/plc-remote/internal/state"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the part of session.Manager the API drives.
type Controller interface {
	Status() session.Status
	Layout() device.Layout
	IssueCommand(ctx context.Context, cmd device.Command) error
	Probe(ctx context.Context, raw string, timeout time.Duration) (session.ProbeResult, error)
	Unbind()
	OnChange(fn state.Observer) (cancel func())
}

// Onboarder is the part of onboarding.Service the API drives.
type Onboarder interface {
	Connect(ctx context.Context, raw string, opts onboarding.ConnectOptions) (onboarding.Result, error)
	Recent(ctx context.Context) ([]onboarding.RecentDevice, error)
	Forget(ctx context.Context, raw string) error
}

// HealthChecker is implemented by dependencies reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

var (
	_ Controller = (*session.Manager)(nil)
	_ Onboarder  = (*onboarding.Service)(nil)
)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Controller Controller
	Onboarding Onboarder
	Database   HealthChecker // optional
	Version    string
}

// Server is the HTTP API server.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	controller Controller
	onboarding Onboarder
	database   HealthChecker
	version    string

	hub      *Hub
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	unwatch  func()
	closeMu  sync.Mutex
}

// New creates a server. It is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("api: logger is required")
	}
	if deps.Controller == nil {
		return nil, errors.New("api: controller is required")
	}
	if deps.Onboarding == nil {
		return nil, errors.New("api: onboarding service is required")
	}
	if deps.WS.Path == "" {
		deps.WS.Path = "/ws"
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		controller: deps.Controller,
		onboarding: deps.Onboarding,
		database:   deps.Database,
		version:    deps.Version,
		hub:        NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start binds the listener, relays store changes to WebSocket clients and
// serves in a background goroutine. A bind failure is returned directly.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.unwatch = s.controller.OnChange(s.hub.BroadcastChange)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		s.unwatch()
		return fmt.Errorf("api: listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops relaying changes and shuts the listener down, waiting up to
// gracefulShutdownTimeout for in-flight requests.
func (s *Server) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.server == nil {
		return nil
	}
	if s.unwatch != nil {
		s.unwatch()
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	s.server = nil
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

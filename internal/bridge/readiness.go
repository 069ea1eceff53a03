package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/orrbarkat/whatsapp-mcp/internal/model"
	"github.com/orrbarkat/whatsapp-mcp/internal/storage"
	"go.uber.org/zap"
)

const (
	defaultHealthAttempts = 30
	defaultPollInterval   = time.Second
	authPollInterval      = 500 * time.Millisecond
)

// processSupervisor is the slice of Supervisor the orchestrator needs.
type processSupervisor interface {
	Start(ctx context.Context) error
	IsRunning() bool
}

// apiClient is the slice of Client the orchestrator needs.
type apiClient interface {
	Health(ctx context.Context) bool
	AuthStatus(ctx context.Context) (authenticated, hasQR bool, err error)
	QRURL() string
}

// Orchestrator combines the supervisor, the bridge API and the session
// store into one readiness picture, and drives the bridge from stopped to
// authenticated.
type Orchestrator struct {
	supervisor processSupervisor
	client     apiClient
	auth       storage.AuthenticationRepository
	monitor    *OutputMonitor
	logger     *zap.Logger

	healthAttempts int
	pollInterval   time.Duration
}

func NewOrchestrator(sup processSupervisor, client apiClient, auth storage.AuthenticationRepository, monitor *OutputMonitor, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		supervisor:     sup,
		client:         client,
		auth:           auth,
		monitor:        monitor,
		logger:         logger,
		healthAttempts: defaultHealthAttempts,
		pollInterval:   defaultPollInterval,
	}
}

// Status recomputes the bridge status from scratch: process liveness, API
// responsiveness and authentication. Nothing is cached.
func (o *Orchestrator) Status(ctx context.Context) model.BridgeStatus {
	running := o.supervisor.IsRunning()
	responsive := false
	if running {
		responsive = o.client.Health(ctx)
	}
	authenticated, reason := o.checkAuth(ctx)
	return model.BridgeStatus{
		Running:       running,
		APIResponsive: responsive,
		Authenticated: authenticated,
		Error:         reason,
	}
}

// checkAuth prefers the bridge's own view of the session and falls back to
// the session store when the API is unreachable.
func (o *Orchestrator) checkAuth(ctx context.Context) (bool, string) {
	authenticated, hasQR, err := o.client.AuthStatus(ctx)
	if err == nil {
		switch {
		case authenticated:
			return true, ""
		case hasQR:
			return false, "qr code available for scanning"
		default:
			return false, "not authenticated"
		}
	}
	o.logger.Debug("bridge auth endpoint unavailable, checking session store", zap.Error(err))
	return o.auth.CheckAuthenticationStatus(ctx)
}

// EnsureReady drives the bridge to a ready state: starts it if needed,
// waits for the API to come up, and re-checks authentication. When the
// bridge runs but the session is unauthenticated, the returned qrURL
// points at the bridge's QR page.
func (o *Orchestrator) EnsureReady(ctx context.Context) (ready bool, message string, qrURL string) {
	st := o.Status(ctx)
	if st.Ready() {
		return true, "bridge is ready", ""
	}

	if !st.Running {
		if err := o.supervisor.Start(ctx); err != nil {
			return false, "failed to start bridge: " + err.Error(), ""
		}
		if err := o.awaitHealthy(ctx); err != nil {
			return false, "bridge started but api is not responsive", ""
		}
	}

	if authenticated, _ := o.checkAuth(ctx); authenticated {
		return true, "bridge is ready and authenticated", ""
	}
	return false, "bridge is running but not authenticated, scan the qr code", o.client.QRURL()
}

// drainOutput empties the monitor's line buffer without blocking. The
// polling loops call it so bridge output never accumulates between the
// startup watch and the next launch.
func (o *Orchestrator) drainOutput() {
	if o.monitor == nil {
		return
	}
	for {
		if _, ok := o.monitor.TryLine(); !ok {
			return
		}
	}
}

func (o *Orchestrator) awaitHealthy(ctx context.Context) error {
	for i := 0; i < o.healthAttempts; i++ {
		o.drainOutput()
		if o.client.Health(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.pollInterval):
		}
	}
	return errors.New("bridge api did not become responsive")
}

// WaitForAuthentication blocks until the session authenticates or a QR code
// becomes available for the caller to display. The QR code is returned at
// most once per capture.
func (o *Orchestrator) WaitForAuthentication(ctx context.Context, timeout time.Duration) (authenticated bool, qr string, err error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		o.drainOutput()
		if ok, _ := o.checkAuth(ctx); ok {
			return true, "", nil
		}
		if o.monitor != nil {
			if code, ok := o.monitor.ConsumeQR(); ok {
				return false, code, nil
			}
		}
		if !o.supervisor.IsRunning() {
			return false, "", errors.New("bridge process stopped unexpectedly")
		}

		select {
		case <-ctx.Done():
			return false, "", ctx.Err()
		case <-deadline.C:
			return false, "", errors.New("timed out waiting for authentication")
		case <-time.After(authPollInterval):
		}
	}
}

package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/comfortage/dataintegrity/internal/audit"
	"github.com/comfortage/dataintegrity/internal/fingerprint"
	"github.com/comfortage/dataintegrity/internal/integrity/model"
)

// State is the lifecycle phase of the ledger transport.
type State string

const (
	// StateUninitialized — Initialize has not run, or it failed.
	StateUninitialized State = "uninitialized"
	// StateConnecting — Initialize is in progress.
	StateConnecting State = "connecting"
	// StateReady — connected and the health probe confirmed the backend.
	StateReady State = "ready"
	// StateReadyDegraded — connected, but the health probe exceeded its
	// bounded wait. Operations are permitted and may fail individually;
	// this is preferable to blocking all access on a slow probe.
	StateReadyDegraded State = "ready_degraded"
)

// InitConfig carries what Initialize needs to bring the transport up.
type InitConfig struct {
	// Credential is the submitting identity; initialisation fails without it.
	Credential string
	// Connect constructs the underlying transport connection.
	Connect func(ctx context.Context) (Transport, error)
	// HealthTimeout bounds the health probe wait. Zero means 5s.
	HealthTimeout time.Duration
}

// Lifecycle wraps a Transport behind the initialisation state machine.
// It satisfies Transport itself: every operation is rejected with
// ErrNotReady until the wrapped transport is ready or ready-degraded.
type Lifecycle struct {
	mu        sync.RWMutex
	state     State
	lastErr   error
	transport Transport
	lastSeq   uint64
	logger    *zap.Logger
}

// NewLifecycle creates a Lifecycle in the uninitialized state.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{state: StateUninitialized, logger: logger}
}

// State returns the current lifecycle phase.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// LastError returns the error recorded by the most recent failed
// initialisation, nil otherwise.
func (l *Lifecycle) LastError() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastErr
}

// LastSequence returns the most recently observed backend commit height.
func (l *Lifecycle) LastSequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSeq
}

// Initialize runs the startup trace: credential check, connection
// construction, bounded health probe, contract-presence probe. Each step
// is logged so a failed start can be diagnosed post mortem. Failure
// records the error and leaves the state Uninitialized; it never panics
// or exits the host process.
func (l *Lifecycle) Initialize(ctx context.Context, cfg InitConfig) error {
	l.setState(StateConnecting, nil)

	fail := func(step string, err error) error {
		wrapped := fmt.Errorf("%s: %w", step, err)
		l.logger.Error("transport initialisation failed",
			zap.String("step", step),
			zap.Error(err),
		)
		l.setState(StateUninitialized, wrapped)
		return wrapped
	}

	// Step 1: credential check.
	if cfg.Credential == "" {
		return fail("credential check", errors.New("no submitting identity configured"))
	}
	l.logger.Info("transport init: credential present")

	// Step 2: connection construction.
	if cfg.Connect == nil {
		return fail("connection construction", errors.New("no connect function configured"))
	}
	transport, err := cfg.Connect(ctx)
	if err != nil {
		return fail("connection construction", err)
	}
	l.logger.Info("transport init: connection constructed")

	healthTimeout := cfg.HealthTimeout
	if healthTimeout == 0 {
		healthTimeout = 5 * time.Second
	}

	// Step 3: health probe, bounded. A slow or unreachable probe degrades
	// rather than blocking startup on it.
	probeCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	health, err := transport.ProbeHealth(probeCtx)
	cancel()
	if err != nil {
		l.logger.Warn("transport init: health probe failed, continuing degraded",
			zap.Duration("timeout", healthTimeout),
			zap.Error(err),
		)
		l.mu.Lock()
		l.transport = transport
		l.state = StateReadyDegraded
		l.lastErr = nil
		l.mu.Unlock()
		return nil
	}
	l.logger.Info("transport init: health probe ok",
		zap.Uint64("sequence", health.Sequence),
		zap.Duration("round_trip", health.RoundTrip),
	)

	// Step 4: contract-presence probe. A timeout degrades like a slow
	// health probe; a definitive absence is an initialisation failure.
	probeCtx, cancel = context.WithTimeout(ctx, healthTimeout)
	err = transport.VerifyContract(probeCtx)
	cancel()
	if errors.Is(err, context.DeadlineExceeded) {
		l.logger.Warn("transport init: contract probe timed out, continuing degraded")
		l.mu.Lock()
		l.transport = transport
		l.state = StateReadyDegraded
		l.lastErr = nil
		l.lastSeq = health.Sequence
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		return fail("contract presence probe", err)
	}
	l.logger.Info("transport init: contract present")

	l.mu.Lock()
	l.transport = transport
	l.state = StateReady
	l.lastErr = nil
	l.lastSeq = health.Sequence
	l.mu.Unlock()
	return nil
}

// Reprobe re-runs the health probe on an initialised transport. A success
// promotes ReadyDegraded to Ready; a failure on a Ready transport demotes
// it to ReadyDegraded. No-op while uninitialised.
func (l *Lifecycle) Reprobe(ctx context.Context) {
	l.mu.RLock()
	transport := l.transport
	state := l.state
	l.mu.RUnlock()
	if transport == nil || (state != StateReady && state != StateReadyDegraded) {
		return
	}

	health, err := transport.ProbeHealth(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		if l.state == StateReady {
			l.logger.Warn("health reprobe failed, degrading", zap.Error(err))
			l.state = StateReadyDegraded
		}
		return
	}
	l.lastSeq = health.Sequence
	if l.state == StateReadyDegraded {
		l.logger.Info("health reprobe ok, transport recovered",
			zap.Uint64("sequence", health.Sequence),
		)
		l.state = StateReady
	}
}

func (l *Lifecycle) setState(s State, err error) {
	l.mu.Lock()
	l.state = s
	l.lastErr = err
	l.mu.Unlock()
}

// ready returns the wrapped transport, or ErrNotReady while the lifecycle
// has not reached a ready state.
func (l *Lifecycle) ready() (Transport, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != StateReady && l.state != StateReadyDegraded {
		return nil, model.ErrNotReady
	}
	return l.transport, nil
}

// Submit implements Transport.
func (l *Lifecycle) Submit(ctx context.Context, req MutationRequest) (*Receipt, error) {
	t, err := l.ready()
	if err != nil {
		return nil, err
	}
	receipt, err := t.Submit(ctx, req)
	if err == nil && receipt.Status == StatusCommitted {
		l.mu.Lock()
		if receipt.Sequence > l.lastSeq {
			l.lastSeq = receipt.Sequence
		}
		l.mu.Unlock()
	}
	return receipt, err
}

// GetRecord implements Transport.
func (l *Lifecycle) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	t, err := l.ready()
	if err != nil {
		return nil, err
	}
	return t.GetRecord(ctx, id)
}

// GetHistory implements Transport.
func (l *Lifecycle) GetHistory(ctx context.Context, id string) ([]fingerprint.Fingerprint, error) {
	t, err := l.ready()
	if err != nil {
		return nil, err
	}
	return t.GetHistory(ctx, id)
}

// RecordExists implements Transport.
func (l *Lifecycle) RecordExists(ctx context.Context, id string) (bool, error) {
	t, err := l.ready()
	if err != nil {
		return false, err
	}
	return t.RecordExists(ctx, id)
}

// HasRole implements Transport.
func (l *Lifecycle) HasRole(ctx context.Context, identity string, cap model.Capability) (bool, error) {
	t, err := l.ready()
	if err != nil {
		return false, err
	}
	return t.HasRole(ctx, identity, cap)
}

// AuditTrail implements Transport.
func (l *Lifecycle) AuditTrail(ctx context.Context, recordID string) ([]audit.Raw, error) {
	t, err := l.ready()
	if err != nil {
		return nil, err
	}
	return t.AuditTrail(ctx, recordID)
}

// ProbeHealth implements Transport.
func (l *Lifecycle) ProbeHealth(ctx context.Context) (*Health, error) {
	t, err := l.ready()
	if err != nil {
		return nil, err
	}
	return t.ProbeHealth(ctx)
}

// VerifyContract implements Transport.
func (l *Lifecycle) VerifyContract(ctx context.Context) error {
	t, err := l.ready()
	if err != nil {
		return err
	}
	return t.VerifyContract(ctx)
}

package chain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/comfortage/dataintegrity/internal/chain"
	"github.com/comfortage/dataintegrity/internal/integrity/model"
)

// probeFailingTransport wraps a MemoryBackend but fails health probes.
type probeFailingTransport struct {
	*chain.MemoryBackend
	probeErr error
}

func (p *probeFailingTransport) ProbeHealth(ctx context.Context) (*chain.Health, error) {
	if p.probeErr != nil {
		return nil, p.probeErr
	}
	return p.MemoryBackend.ProbeHealth(ctx)
}

func memConnect(b chain.Transport) func(context.Context) (chain.Transport, error) {
	return func(context.Context) (chain.Transport, error) { return b, nil }
}

func TestLifecycle_rejectsBeforeInit(t *testing.T) {
	l := chain.NewLifecycle(zap.NewNop())

	if got := l.State(); got != chain.StateUninitialized {
		t.Fatalf("state = %s, want uninitialized", got)
	}
	if _, err := l.GetRecord(ctx, "DS-1"); !errors.Is(err, model.ErrNotReady) {
		t.Errorf("GetRecord before init: got %v, want ErrNotReady", err)
	}
	if _, err := l.Submit(ctx, chain.MutationRequest{Method: chain.MethodStoreRecord}); !errors.Is(err, model.ErrNotReady) {
		t.Errorf("Submit before init: got %v, want ErrNotReady", err)
	}
}

func TestLifecycle_initializeReady(t *testing.T) {
	l := chain.NewLifecycle(zap.NewNop())
	b := newBackend(t)

	err := l.Initialize(ctx, chain.InitConfig{
		Credential: "service-1",
		Connect:    memConnect(b),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := l.State(); got != chain.StateReady {
		t.Fatalf("state = %s, want ready", got)
	}
	if l.LastError() != nil {
		t.Errorf("LastError = %v, want nil", l.LastError())
	}

	// Operations now pass through.
	if _, err := l.RecordExists(ctx, "anything"); err != nil {
		t.Errorf("RecordExists after init: %v", err)
	}
}

func TestLifecycle_missingCredential(t *testing.T) {
	l := chain.NewLifecycle(zap.NewNop())

	err := l.Initialize(ctx, chain.InitConfig{Connect: memConnect(newBackend(t))})
	if err == nil {
		t.Fatal("Initialize without credential succeeded")
	}
	if got := l.State(); got != chain.StateUninitialized {
		t.Errorf("state = %s, want uninitialized", got)
	}
	if l.LastError() == nil {
		t.Error("LastError not recorded")
	}
}

func TestLifecycle_connectFailureIsRecordedNotFatal(t *testing.T) {
	l := chain.NewLifecycle(zap.NewNop())
	boom := errors.New("rpc unreachable")

	err := l.Initialize(ctx, chain.InitConfig{
		Credential: "service-1",
		Connect:    func(context.Context) (chain.Transport, error) { return nil, boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped connect error", err)
	}
	if l.State() != chain.StateUninitialized {
		t.Errorf("state = %s, want uninitialized", l.State())
	}
	if !errors.Is(l.LastError(), boom) {
		t.Errorf("LastError = %v, want connect error", l.LastError())
	}
}

func TestLifecycle_degradedOnFailedHealthProbe(t *testing.T) {
	l := chain.NewLifecycle(zap.NewNop())
	b := &probeFailingTransport{
		MemoryBackend: newBackend(t),
		probeErr:      errors.New("probe timeout"),
	}

	err := l.Initialize(ctx, chain.InitConfig{
		Credential:    "service-1",
		Connect:       memConnect(b),
		HealthTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("degraded init should not error: %v", err)
	}
	if got := l.State(); got != chain.StateReadyDegraded {
		t.Fatalf("state = %s, want ready_degraded", got)
	}

	// Degraded still permits operations.
	exists, err := l.RecordExists(ctx, "DS-1")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("unexpected record")
	}
}

func TestLifecycle_reprobePromotesDegraded(t *testing.T) {
	l := chain.NewLifecycle(zap.NewNop())
	b := &probeFailingTransport{
		MemoryBackend: newBackend(t),
		probeErr:      errors.New("slow start"),
	}

	if err := l.Initialize(ctx, chain.InitConfig{
		Credential: "service-1",
		Connect:    memConnect(b),
	}); err != nil {
		t.Fatal(err)
	}
	if l.State() != chain.StateReadyDegraded {
		t.Fatalf("precondition: state = %s", l.State())
	}

	b.probeErr = nil
	l.Reprobe(ctx)
	if got := l.State(); got != chain.StateReady {
		t.Errorf("after successful reprobe: state = %s, want ready", got)
	}

	b.probeErr = errors.New("down again")
	l.Reprobe(ctx)
	if got := l.State(); got != chain.StateReadyDegraded {
		t.Errorf("after failed reprobe: state = %s, want ready_degraded", got)
	}
}

package chain_test

import (
	"context"
	"strings"
	"testing"

	"github.com/comfortage/dataintegrity/internal/audit"
	"github.com/comfortage/dataintegrity/internal/chain"
	"github.com/comfortage/dataintegrity/internal/fingerprint"
	"github.com/comfortage/dataintegrity/internal/integrity/model"
)

var ctx = context.Background()

var (
	fpA = fingerprint.MustParse(strings.Repeat("aa", 32))
	fpB = fingerprint.MustParse(strings.Repeat("bb", 32))
	fpC = fingerprint.MustParse(strings.Repeat("cc", 32))
)

// newBackend returns a MemoryBackend with admin, ingester and validator
// identities already set up.
func newBackend(t *testing.T) *chain.MemoryBackend {
	t.Helper()
	b := chain.NewMemoryBackend("admin-1")
	for _, grant := range []struct {
		identity string
		cap      model.Capability
	}{
		{"ingester-1", model.CapIngester},
		{"validator-1", model.CapValidator},
	} {
		receipt, err := b.Submit(ctx, chain.MutationRequest{
			Method: chain.MethodGrantRole,
			Sender: "admin-1",
			Args: map[string]string{
				chain.ArgIdentity:   grant.identity,
				chain.ArgCapability: string(grant.cap),
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if receipt.Status != chain.StatusCommitted {
			t.Fatalf("grant rejected: %s", receipt.Reject)
		}
	}
	return b
}

func store(t *testing.T, b *chain.MemoryBackend, sender, id string, fp fingerprint.Fingerprint) *chain.Receipt {
	t.Helper()
	receipt, err := b.Submit(ctx, chain.MutationRequest{
		Method: chain.MethodStoreRecord,
		Sender: sender,
		Args:   map[string]string{chain.ArgRecordID: id, chain.ArgFingerprint: fp.String()},
	})
	if err != nil {
		t.Fatal(err)
	}
	return receipt
}

func TestSubmit_storeCreatesRecord(t *testing.T) {
	b := newBackend(t)

	receipt := store(t, b, "ingester-1", "DS-1", fpA)
	if receipt.Status != chain.StatusCommitted {
		t.Fatalf("store rejected: %s", receipt.Reject)
	}
	if len(receipt.Events) != 1 || receipt.Events[0].Name != string(audit.RecordCreated) {
		t.Fatalf("expected one record_created event, got %+v", receipt.Events)
	}

	rec, err := b.GetRecord(ctx, "DS-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Fingerprint != fpA {
		t.Errorf("fingerprint = %s, want %s", rec.Fingerprint, fpA)
	}
	if len(rec.History) != 1 || rec.History[0] != fpA {
		t.Errorf("history = %v, want [%s]", rec.History, fpA)
	}
	if rec.SubmittedBy != "ingester-1" {
		t.Errorf("submitted_by = %q", rec.SubmittedBy)
	}
	if rec.Sequence != receipt.Sequence {
		t.Errorf("record sequence %d != receipt sequence %d", rec.Sequence, receipt.Sequence)
	}
}

func TestSubmit_duplicateStoreRejected(t *testing.T) {
	b := newBackend(t)
	store(t, b, "ingester-1", "DS-1", fpA)

	receipt := store(t, b, "ingester-1", "DS-1", fpC)
	if receipt.Status != chain.StatusRejected || receipt.Reject != chain.RejectAlreadyExists {
		t.Fatalf("second store: got %s/%s, want rejected/already_exists", receipt.Status, receipt.Reject)
	}

	// The existing record is untouched.
	rec, err := b.GetRecord(ctx, "DS-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Fingerprint != fpA || len(rec.History) != 1 {
		t.Errorf("record mutated by rejected store: %+v", rec)
	}
}

func TestSubmit_updateAppendsHistory(t *testing.T) {
	b := newBackend(t)
	store(t, b, "ingester-1", "DS-1", fpA)

	receipt, err := b.Submit(ctx, chain.MutationRequest{
		Method: chain.MethodUpdateRecord,
		Sender: "ingester-1",
		Args:   map[string]string{chain.ArgRecordID: "DS-1", chain.ArgFingerprint: fpB.String()},
	})
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Status != chain.StatusCommitted {
		t.Fatalf("update rejected: %s", receipt.Reject)
	}

	ev, err := audit.Decode(receipt.Events[0])
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != audit.RecordUpdated || ev.Old == nil || *ev.Old != fpA || ev.New != fpB {
		t.Errorf("update event wrong: %+v", ev)
	}

	history, err := b.GetHistory(ctx, "DS-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0] != fpA || history[1] != fpB {
		t.Errorf("history = %v, want [%s %s]", history, fpA, fpB)
	}
}

func TestSubmit_updateMissingRecord(t *testing.T) {
	b := newBackend(t)
	receipt, err := b.Submit(ctx, chain.MutationRequest{
		Method: chain.MethodUpdateRecord,
		Sender: "ingester-1",
		Args:   map[string]string{chain.ArgRecordID: "ghost", chain.ArgFingerprint: fpA.String()},
	})
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Reject != chain.RejectNotFound {
		t.Errorf("got %s, want not_found", receipt.Reject)
	}
}

func TestSubmit_rejectsZeroAndMalformedFingerprints(t *testing.T) {
	b := newBackend(t)
	for _, raw := range []string{fingerprint.Zero.String(), "0xnothex", ""} {
		receipt, err := b.Submit(ctx, chain.MutationRequest{
			Method: chain.MethodStoreRecord,
			Sender: "ingester-1",
			Args:   map[string]string{chain.ArgRecordID: "DS-1", chain.ArgFingerprint: raw},
		})
		if err != nil {
			t.Fatal(err)
		}
		if receipt.Reject != chain.RejectInvalidFingerprint {
			t.Errorf("fingerprint %q: got %s, want invalid_fingerprint", raw, receipt.Reject)
		}
	}
}

func TestSubmit_validateAlwaysEmitsOneEvent(t *testing.T) {
	b := newBackend(t)
	store(t, b, "ingester-1", "DS-1", fpA)

	for _, tc := range []struct {
		candidate fingerprint.Fingerprint
		want      bool
	}{
		{fpA, true},
		{fpB, false},
	} {
		receipt, err := b.Submit(ctx, chain.MutationRequest{
			Method: chain.MethodValidateRecord,
			Sender: "validator-1",
			Args:   map[string]string{chain.ArgRecordID: "DS-1", chain.ArgFingerprint: tc.candidate.String()},
		})
		if err != nil {
			t.Fatal(err)
		}
		if receipt.Status != chain.StatusCommitted {
			t.Fatalf("validate rejected: %s", receipt.Reject)
		}
		if len(receipt.Events) != 1 {
			t.Fatalf("validate emitted %d events, want exactly 1", len(receipt.Events))
		}
		ev, err := audit.Decode(receipt.Events[0])
		if err != nil {
			t.Fatal(err)
		}
		if ev.IsValid == nil || *ev.IsValid != tc.want {
			t.Errorf("candidate %s: is_valid = %v, want %v", tc.candidate, ev.IsValid, tc.want)
		}
	}

	trail, err := b.AuditTrail(ctx, "DS-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) != 3 { // created + 2 checks
		t.Errorf("trail length = %d, want 3", len(trail))
	}
}

func TestSubmit_unauthorizedSenders(t *testing.T) {
	b := newBackend(t)
	store(t, b, "ingester-1", "DS-1", fpA)

	cases := []chain.MutationRequest{
		{Method: chain.MethodStoreRecord, Sender: "validator-1",
			Args: map[string]string{chain.ArgRecordID: "DS-2", chain.ArgFingerprint: fpA.String()}},
		{Method: chain.MethodUpdateRecord, Sender: "nobody",
			Args: map[string]string{chain.ArgRecordID: "DS-1", chain.ArgFingerprint: fpB.String()}},
		{Method: chain.MethodValidateRecord, Sender: "ingester-1",
			Args: map[string]string{chain.ArgRecordID: "DS-1", chain.ArgFingerprint: fpA.String()}},
		{Method: chain.MethodGrantRole, Sender: "ingester-1",
			Args: map[string]string{chain.ArgIdentity: "x", chain.ArgCapability: string(model.CapAdmin)}},
	}
	for _, req := range cases {
		receipt, err := b.Submit(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		if receipt.Reject != chain.RejectUnauthorized {
			t.Errorf("%s by %s: got %s, want unauthorized", req.Method, req.Sender, receipt.Reject)
		}
	}

	// Unauthorized mutations must leave no audit trace.
	trail, err := b.AuditTrail(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) != 1 { // just the initial store
		t.Errorf("trail length = %d, want 1", len(trail))
	}
}

func TestSubmit_grantIdempotent(t *testing.T) {
	b := newBackend(t)

	receipt, err := b.Submit(ctx, chain.MutationRequest{
		Method: chain.MethodGrantRole,
		Sender: "admin-1",
		Args:   map[string]string{chain.ArgIdentity: "ingester-1", chain.ArgCapability: string(model.CapIngester)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Status != chain.StatusCommitted {
		t.Errorf("re-grant should commit as a no-op, got %s", receipt.Reject)
	}

	held, err := b.HasRole(ctx, "ingester-1", model.CapIngester)
	if err != nil {
		t.Fatal(err)
	}
	if !held {
		t.Error("capability lost after idempotent re-grant")
	}
}

func TestSubmit_revokeRemovesCapability(t *testing.T) {
	b := newBackend(t)

	if _, err := b.Submit(ctx, chain.MutationRequest{
		Method: chain.MethodRevokeRole,
		Sender: "admin-1",
		Args:   map[string]string{chain.ArgIdentity: "ingester-1", chain.ArgCapability: string(model.CapIngester)},
	}); err != nil {
		t.Fatal(err)
	}

	held, err := b.HasRole(ctx, "ingester-1", model.CapIngester)
	if err != nil {
		t.Fatal(err)
	}
	if held {
		t.Error("capability still held after revoke")
	}

	receipt := store(t, b, "ingester-1", "DS-9", fpA)
	if receipt.Reject != chain.RejectUnauthorized {
		t.Errorf("store after revoke: got %s, want unauthorized", receipt.Reject)
	}
}

func TestSubmit_sequenceMonotonic(t *testing.T) {
	b := newBackend(t)

	var last uint64
	for i, id := range []string{"a", "b", "c"} {
		receipt := store(t, b, "ingester-1", id, fpA)
		if receipt.Sequence <= last {
			t.Fatalf("commit %d: sequence %d not monotonic (last %d)", i, receipt.Sequence, last)
		}
		last = receipt.Sequence
	}
}

func TestGetRecord_notFound(t *testing.T) {
	b := newBackend(t)
	if _, err := b.GetRecord(ctx, "ghost"); err != model.ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	exists, err := b.RecordExists(ctx, "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("RecordExists(ghost) = true")
	}
}

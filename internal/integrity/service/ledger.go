// Package service contains the business logic of the data integrity
// ledger: capability-gated record writes, audited validation, and the
// role registry.
//
// Authorization and input validation run before anything is submitted to
// the backend, so a request that was never going to commit cannot
// consume a commit slot. The backend re-checks everything under its
// total order and remains authoritative when submissions race.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/comfortage/dataintegrity/internal/audit"
	"github.com/comfortage/dataintegrity/internal/chain"
	"github.com/comfortage/dataintegrity/internal/fingerprint"
	"github.com/comfortage/dataintegrity/internal/integrity/model"
	"github.com/comfortage/dataintegrity/internal/session"
)

// submitter is the slice of the session the ledger needs.
// *session.Session satisfies this interface.
type submitter interface {
	Submit(ctx context.Context, req chain.MutationRequest) (*session.Outcome, error)
}

// CommitResult reports one confirmed mutation.
type CommitResult struct {
	RecordID    string        `json:"record_id"`
	Sequence    uint64        `json:"sequence"`
	CommittedAt time.Time     `json:"committed_at"`
	Events      []audit.Event `json:"events"`
}

// ValidationResult reports one audited integrity check.
type ValidationResult struct {
	RecordID    string                  `json:"record_id"`
	IsValid     bool                    `json:"is_valid"`
	Candidate   fingerprint.Fingerprint `json:"candidate"`
	Stored      fingerprint.Fingerprint `json:"stored"`
	Sequence    uint64                  `json:"sequence"`
	CommittedAt time.Time               `json:"committed_at"`
}

// CheckResult reports one un-audited quick check.
type CheckResult struct {
	RecordID  string                  `json:"record_id"`
	IsValid   bool                    `json:"is_valid"`
	Candidate fingerprint.Fingerprint `json:"candidate"`
	Stored    fingerprint.Fingerprint `json:"stored"`
}

// Ledger is the integrity ledger service.
type Ledger struct {
	transport chain.Transport
	session   submitter
	logger    *zap.Logger
}

// NewLedger creates a Ledger over the given transport and session.
func NewLedger(transport chain.Transport, sess submitter, logger *zap.Logger) *Ledger {
	return &Ledger{transport: transport, session: sess, logger: logger}
}

// preflight validates the identifier and fingerprint and checks the
// actor's capability, all without touching the submission path.
func (l *Ledger) preflight(ctx context.Context, actor, id, rawFP string, cap model.Capability) (fingerprint.Fingerprint, error) {
	if id == "" {
		return fingerprint.Zero, model.ErrInvalidIdentifier
	}
	fp, err := fingerprint.Parse(rawFP)
	if err != nil {
		return fingerprint.Zero, fmt.Errorf("%w: %s", model.ErrInvalidFingerprint, err)
	}
	if fp.IsZero() {
		return fingerprint.Zero, fmt.Errorf("%w: zero value", model.ErrInvalidFingerprint)
	}
	held, err := l.transport.HasRole(ctx, actor, cap)
	if err != nil {
		return fingerprint.Zero, err
	}
	if !held {
		return fingerprint.Zero, fmt.Errorf("%w: %q lacks %s", model.ErrUnauthorized, actor, cap)
	}
	return fp, nil
}

// Store creates the record for req.ID. A second store of the same id
// fails with ErrAlreadyExists; it never silently overwrites.
func (l *Ledger) Store(ctx context.Context, actor string, req *model.StoreRequest) (*CommitResult, error) {
	fp, err := l.preflight(ctx, actor, req.ID, req.Fingerprint, model.CapIngester)
	if err != nil {
		return nil, err
	}

	args := map[string]string{
		chain.ArgRecordID:    req.ID,
		chain.ArgFingerprint: fp.String(),
	}
	if req.MetadataRef != nil {
		args[chain.ArgMetadataRef] = *req.MetadataRef
	}

	out, err := l.session.Submit(ctx, chain.MutationRequest{
		Method: chain.MethodStoreRecord,
		Sender: actor,
		Args:   args,
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("record stored",
		zap.String("record_id", req.ID),
		zap.String("actor", actor),
		zap.Uint64("sequence", out.Receipt.Sequence),
	)
	return commitResult(req.ID, out), nil
}

// Update appends a new fingerprint to an existing record.
func (l *Ledger) Update(ctx context.Context, actor, id string, req *model.UpdateRequest) (*CommitResult, error) {
	fp, err := l.preflight(ctx, actor, id, req.Fingerprint, model.CapIngester)
	if err != nil {
		return nil, err
	}

	args := map[string]string{
		chain.ArgRecordID:    id,
		chain.ArgFingerprint: fp.String(),
	}
	if req.MetadataRef != nil {
		args[chain.ArgMetadataRef] = *req.MetadataRef
	}

	out, err := l.session.Submit(ctx, chain.MutationRequest{
		Method: chain.MethodUpdateRecord,
		Sender: actor,
		Args:   args,
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("record updated",
		zap.String("record_id", id),
		zap.String("actor", actor),
		zap.Uint64("sequence", out.Receipt.Sequence),
	)
	return commitResult(id, out), nil
}

// Validate runs an audited integrity check: the comparison result is
// committed to the audit trail whether or not the candidate matches.
func (l *Ledger) Validate(ctx context.Context, actor, id, rawCandidate string) (*ValidationResult, error) {
	if id == "" {
		return nil, model.ErrInvalidIdentifier
	}
	candidate, err := fingerprint.Parse(rawCandidate)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidFingerprint, err)
	}
	held, err := l.transport.HasRole(ctx, actor, model.CapValidator)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, fmt.Errorf("%w: %q lacks %s", model.ErrUnauthorized, actor, model.CapValidator)
	}
	// Probe existence up front so a check against a missing record never
	// reaches the submission path.
	exists, err := l.transport.RecordExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %q", model.ErrNotFound, id)
	}

	out, err := l.session.Submit(ctx, chain.MutationRequest{
		Method: chain.MethodValidateRecord,
		Sender: actor,
		Args: map[string]string{
			chain.ArgRecordID:    id,
			chain.ArgFingerprint: candidate.String(),
		},
	})
	if err != nil {
		return nil, err
	}

	var checked *audit.Event
	for i := range out.Events {
		if out.Events[i].Kind == audit.IntegrityChecked {
			checked = &out.Events[i]
			break
		}
	}
	if checked == nil || checked.IsValid == nil {
		// ParseReceipt guarantees the event; keep the guard anyway.
		return nil, model.ErrMalformedReceipt
	}

	l.logger.Info("integrity validated",
		zap.String("record_id", id),
		zap.String("actor", actor),
		zap.Bool("is_valid", *checked.IsValid),
	)
	return &ValidationResult{
		RecordID:    id,
		IsValid:     *checked.IsValid,
		Candidate:   checked.Candidate,
		Stored:      checked.Stored,
		Sequence:    out.Receipt.Sequence,
		CommittedAt: out.Receipt.Time,
	}, nil
}

// QuickCheck performs the same comparison as Validate but requires no
// capability, commits nothing, and leaves no audit trace. It is the
// free verification path for anyone holding a record id.
func (l *Ledger) QuickCheck(ctx context.Context, id, rawCandidate string) (*CheckResult, error) {
	if id == "" {
		return nil, model.ErrInvalidIdentifier
	}
	candidate, err := fingerprint.Parse(rawCandidate)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidFingerprint, err)
	}

	rec, err := l.transport.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CheckResult{
		RecordID:  id,
		IsValid:   candidate == rec.Fingerprint,
		Candidate: candidate,
		Stored:    rec.Fingerprint,
	}, nil
}

// Get returns the current record for id.
func (l *Ledger) Get(ctx context.Context, id string) (*model.Record, error) {
	if id == "" {
		return nil, model.ErrInvalidIdentifier
	}
	return l.transport.GetRecord(ctx, id)
}

// History returns the ordered fingerprint sequence for id.
func (l *Ledger) History(ctx context.Context, id string) ([]fingerprint.Fingerprint, error) {
	if id == "" {
		return nil, model.ErrInvalidIdentifier
	}
	return l.transport.GetHistory(ctx, id)
}

// Exists reports whether a record for id has been created.
func (l *Ledger) Exists(ctx context.Context, id string) (bool, error) {
	return l.transport.RecordExists(ctx, id)
}

// AuditTrail returns the decoded audit events for a record, or for the
// whole ledger when id is empty.
func (l *Ledger) AuditTrail(ctx context.Context, id string) ([]audit.Event, error) {
	raws, err := l.transport.AuditTrail(ctx, id)
	if err != nil {
		return nil, err
	}
	events := make([]audit.Event, 0, len(raws))
	for _, raw := range raws {
		ev, err := audit.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", model.ErrMalformedReceipt, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func commitResult(id string, out *session.Outcome) *CommitResult {
	return &CommitResult{
		RecordID:    id,
		Sequence:    out.Receipt.Sequence,
		CommittedAt: out.Receipt.Time,
		Events:      out.Events,
	}
}

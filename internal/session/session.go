// Package session implements the submission/confirmation pipeline between
// the integrity ledger and the transactional backend: it submits one
// mutation, blocks for its receipt, parses the receipt into typed audit
// events, and classifies the outcome.
//
// The session never retries a submission on its own. A lost receipt
// followed by a blind re-submit of storeRecord would surface as a
// spurious AlreadyExists and hide the real failure, so transport faults
// are returned to the caller with enough context (method, target id,
// last observed sequence) to make the retry decision there.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/comfortage/dataintegrity/internal/audit"
	"github.com/comfortage/dataintegrity/internal/chain"
	"github.com/comfortage/dataintegrity/internal/integrity/model"
)

// DefaultTimeout bounds the wait for a commit receipt when the caller's
// context carries no earlier deadline.
const DefaultTimeout = 30 * time.Second

// expectedEvents maps each contract method to the audit event kind its
// committed receipt must carry. Methods absent from the map commit
// without events.
var expectedEvents = map[string]audit.Kind{
	chain.MethodStoreRecord:    audit.RecordCreated,
	chain.MethodUpdateRecord:   audit.RecordUpdated,
	chain.MethodValidateRecord: audit.IntegrityChecked,
}

// sequencer is implemented by transports that track the last observed
// commit height (the lifecycle wrapper does).
type sequencer interface {
	LastSequence() uint64
}

// Outcome is a confirmed commit: the raw receipt plus its decoded events.
type Outcome struct {
	Receipt *chain.Receipt
	Events  []audit.Event
}

// Session submits mutations through a Transport and confirms them.
type Session struct {
	transport chain.Transport
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a Session over the given transport.
func New(transport chain.Transport, logger *zap.Logger) *Session {
	return &Session{transport: transport, timeout: DefaultTimeout, logger: logger}
}

// SetTimeout overrides the default receipt wait bound.
func (s *Session) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Submit sends the mutation and blocks until the backend reports a
// terminal state or the wait bound elapses. Cancelling ctx stops the
// wait; it does not retract a mutation the backend may still commit.
//
// Rejected receipts come back as the matching taxonomy error. Transport
// faults come back as *model.TransportError. Committed receipts missing
// their expected events come back as ErrMalformedReceipt.
func (s *Session) Submit(ctx context.Context, req chain.MutationRequest) (*Outcome, error) {
	if req.SubmissionID == "" {
		req.SubmissionID = uuid.New().String()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	receipt, err := s.transport.Submit(ctx, req)
	if err != nil {
		if errors.Is(err, model.ErrNotReady) {
			return nil, err
		}
		terr := &model.TransportError{
			Op:           req.Method,
			RecordID:     req.Args[chain.ArgRecordID],
			LastSequence: s.lastSequence(),
			Err:          err,
		}
		s.logger.Warn("submission failed",
			zap.String("method", req.Method),
			zap.String("submission_id", req.SubmissionID),
			zap.Error(err),
		)
		return nil, terr
	}

	if receipt.Status == chain.StatusRejected {
		return nil, rejectionError(receipt.Reject, req)
	}

	events, err := ParseReceipt(receipt, req.Method)
	if err != nil {
		// An integration defect, not a transient condition: be loud.
		s.logger.Error("malformed commit receipt",
			zap.String("method", req.Method),
			zap.String("submission_id", req.SubmissionID),
			zap.Uint64("sequence", receipt.Sequence),
			zap.Error(err),
		)
		return nil, err
	}

	return &Outcome{Receipt: receipt, Events: events}, nil
}

// ParseReceipt extracts typed audit events from a committed receipt and
// checks the receipt carries exactly the events the method must emit.
// The transport is trusted for ordering but not for payload shape.
func ParseReceipt(receipt *chain.Receipt, method string) ([]audit.Event, error) {
	if receipt.Status != chain.StatusCommitted {
		return nil, fmt.Errorf("%w: parse of non-committed receipt", model.ErrMalformedReceipt)
	}

	events := make([]audit.Event, 0, len(receipt.Events))
	for _, raw := range receipt.Events {
		ev, err := audit.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", model.ErrMalformedReceipt, err)
		}
		events = append(events, ev)
	}

	if want, ok := expectedEvents[method]; ok {
		n := 0
		for _, ev := range events {
			if ev.Kind == want {
				n++
			}
		}
		if n != 1 {
			return nil, fmt.Errorf("%w: %s receipt carries %d %s events, want exactly 1",
				model.ErrMalformedReceipt, method, n, want)
		}
	}
	return events, nil
}

// rejectionError maps a backend reject code to the error taxonomy.
func rejectionError(code chain.RejectCode, req chain.MutationRequest) error {
	id := req.Args[chain.ArgRecordID]
	switch code {
	case chain.RejectInvalidIdentifier:
		return model.ErrInvalidIdentifier
	case chain.RejectInvalidFingerprint:
		return model.ErrInvalidFingerprint
	case chain.RejectAlreadyExists:
		return fmt.Errorf("%w: %q", model.ErrAlreadyExists, id)
	case chain.RejectNotFound:
		return fmt.Errorf("%w: %q", model.ErrNotFound, id)
	case chain.RejectUnauthorized:
		return fmt.Errorf("%w: %s as %q", model.ErrUnauthorized, req.Method, req.Sender)
	default:
		return fmt.Errorf("%w: backend rejected %s with %q", model.ErrMalformedReceipt, req.Method, code)
	}
}

func (s *Session) lastSequence() uint64 {
	if sq, ok := s.transport.(sequencer); ok {
		return sq.LastSequence()
	}
	return 0
}

package model

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by the integrity ledger. Handlers map these to
// HTTP statuses; callers use errors.Is to branch on them.
var (
	// ErrInvalidIdentifier — record id is empty.
	ErrInvalidIdentifier = errors.New("invalid record identifier")
	// ErrInvalidFingerprint — fingerprint is malformed or the zero value.
	ErrInvalidFingerprint = errors.New("invalid fingerprint")
	// ErrAlreadyExists — a record with this id was already created.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrNotFound — no record with this id.
	ErrNotFound = errors.New("record not found")
	// ErrUnauthorized — the caller lacks the required capability.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotReady — the ledger transport is not initialised.
	ErrNotReady = errors.New("ledger transport not ready")
	// ErrMalformedReceipt — a committed receipt was missing expected
	// structure. This is an integration defect, not a transient condition.
	ErrMalformedReceipt = errors.New("malformed commit receipt")
)

// TransportError reports a broken submission or confirmation path. It
// carries enough context for the caller to decide whether to retry;
// the ledger never retries on its own.
type TransportError struct {
	// Op is the attempted contract method, e.g. "storeRecord".
	Op string
	// RecordID is the target identifier, if any.
	RecordID string
	// LastSequence is the last backend commit sequence observed before
	// the failure, 0 if none was observed.
	LastSequence uint64
	// Err is the underlying transport fault.
	Err error
}

func (e *TransportError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("transport failure during %s of %q (last sequence %d): %v",
			e.Op, e.RecordID, e.LastSequence, e.Err)
	}
	return fmt.Sprintf("transport failure during %s (last sequence %d): %v",
		e.Op, e.LastSequence, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

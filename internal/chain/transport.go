// Package chain defines the ledger transport boundary: the mutation and
// receipt wire shapes, the Transport interface over the external
// transactional backend, and the lifecycle state machine that gates
// access to it.
//
// Two backends are provided. MemoryBackend keeps contract state in
// process and is used for tests and single-node development.
// PostgresBackend persists contract state durably and serialises commits
// with an advisory lock. Both execute the contract state machine
// authoritatively: when two mutations race, the backend's commit order
// decides, and the loser observes a rejection rather than a silent merge.
package chain

import (
	"context"
	"time"

	"github.com/comfortage/dataintegrity/internal/audit"
	"github.com/comfortage/dataintegrity/internal/fingerprint"
	"github.com/comfortage/dataintegrity/internal/integrity/model"
)

// Contract method names accepted by Submit.
const (
	MethodStoreRecord    = "storeRecord"
	MethodUpdateRecord   = "updateRecord"
	MethodValidateRecord = "validateRecord"
	MethodGrantRole      = "grantRole"
	MethodRevokeRole     = "revokeRole"
)

// Argument keys used in MutationRequest.Args.
const (
	ArgRecordID    = "id"
	ArgFingerprint = "fingerprint"
	ArgMetadataRef = "metadata_ref"
	ArgIdentity    = "identity"
	ArgCapability  = "capability"
)

// MutationRequest is one intended state change, addressed to a contract
// method with string-encoded arguments and the acting identity.
type MutationRequest struct {
	// SubmissionID is a caller-assigned id correlating request and receipt.
	SubmissionID string            `json:"submission_id"`
	Method       string            `json:"method"`
	Sender       string            `json:"sender"`
	Args         map[string]string `json:"args"`
}

// ReceiptStatus is the terminal outcome of a submitted mutation.
type ReceiptStatus string

const (
	StatusCommitted ReceiptStatus = "committed"
	StatusRejected  ReceiptStatus = "rejected"
)

// RejectCode identifies why the backend refused a mutation.
type RejectCode string

const (
	RejectInvalidIdentifier  RejectCode = "invalid_identifier"
	RejectInvalidFingerprint RejectCode = "invalid_fingerprint"
	RejectAlreadyExists      RejectCode = "already_exists"
	RejectNotFound           RejectCode = "not_found"
	RejectUnauthorized       RejectCode = "unauthorized"
	RejectUnknownMethod      RejectCode = "unknown_method"
)

// Receipt is the confirmation artifact for one mutation. Sequence is
// assigned only to committed mutations and is monotonic across the
// backend's total order.
type Receipt struct {
	SubmissionID string        `json:"submission_id"`
	Status       ReceiptStatus `json:"status"`
	Reject       RejectCode    `json:"reject_code,omitempty"`
	Sequence     uint64        `json:"sequence,omitempty"`
	Time         time.Time     `json:"time"`
	Events       []audit.Raw   `json:"events,omitempty"`
}

// Health is the result of a transport health probe.
type Health struct {
	// Sequence is the current commit height.
	Sequence uint64 `json:"sequence"`
	// RoundTrip is the probe latency.
	RoundTrip time.Duration `json:"round_trip"`
}

// Transport is the abstract transactional backend. Submit blocks until the
// backend reports a terminal state or ctx is done; cancelling ctx stops
// waiting but does not retract a mutation the backend may still commit.
// Read methods query current committed state synchronously.
type Transport interface {
	Submit(ctx context.Context, req MutationRequest) (*Receipt, error)

	GetRecord(ctx context.Context, id string) (*model.Record, error)
	GetHistory(ctx context.Context, id string) ([]fingerprint.Fingerprint, error)
	RecordExists(ctx context.Context, id string) (bool, error)
	HasRole(ctx context.Context, identity string, cap model.Capability) (bool, error)

	// AuditTrail returns committed audit events in commit order, optionally
	// filtered by record id ("" returns the full trail).
	AuditTrail(ctx context.Context, recordID string) ([]audit.Raw, error)

	// ProbeHealth confirms reachability and returns the commit height.
	ProbeHealth(ctx context.Context) (*Health, error)

	// VerifyContract checks that the integrity contract is present and
	// initialised on the backend.
	VerifyContract(ctx context.Context) error
}

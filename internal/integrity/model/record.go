package model

import (
	"time"

	"github.com/comfortage/dataintegrity/internal/fingerprint"
)

// Capability is a named permission grantable to an identity.
type Capability string

const (
	// CapIngester may create and update records.
	CapIngester Capability = "ingester"
	// CapValidator may run audited integrity validations.
	CapValidator Capability = "validator"
	// CapAdmin may grant and revoke capabilities.
	CapAdmin Capability = "admin"
)

// Capabilities lists every known capability.
var Capabilities = []Capability{CapIngester, CapValidator, CapAdmin}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapIngester, CapValidator, CapAdmin:
		return true
	}
	return false
}

// Record is the stored state for one dataset identifier.
//
// Fingerprint always equals the last element of History; History is
// append-only and never shorter than one entry.
type Record struct {
	ID          string                    `json:"id"`
	Fingerprint fingerprint.Fingerprint   `json:"fingerprint"`
	History     []fingerprint.Fingerprint `json:"history"`
	SubmittedBy string                    `json:"submitted_by"`
	// Sequence is the backend commit sequence of the last write; it is the
	// authoritative ordering, CommittedAt is informational wall-clock time.
	Sequence    uint64     `json:"sequence"`
	CommittedAt time.Time  `json:"committed_at"`
	// MetadataRef is an optional external content pointer (e.g. a CID).
	// nil means no metadata was attached, as opposed to an empty string.
	MetadataRef *string `json:"metadata_ref,omitempty"`
}

// Clone returns a deep copy so callers cannot alias backend-held state.
func (r *Record) Clone() *Record {
	cp := *r
	cp.History = append([]fingerprint.Fingerprint(nil), r.History...)
	if r.MetadataRef != nil {
		ref := *r.MetadataRef
		cp.MetadataRef = &ref
	}
	return &cp
}

// RoleGrant is one (identity, capability) pair held in the backend.
type RoleGrant struct {
	Identity   string     `json:"identity"`
	Capability Capability `json:"capability"`
	GrantedBy  string     `json:"granted_by"`
	Sequence   uint64     `json:"sequence"`
	GrantedAt  time.Time  `json:"granted_at"`
}

// StoreRequest is the payload for creating a record.
type StoreRequest struct {
	ID          string  `json:"id" binding:"required"`
	Fingerprint string  `json:"fingerprint" binding:"required"`
	MetadataRef *string `json:"metadata_ref,omitempty"`
}

// UpdateRequest is the payload for appending a new fingerprint to a record.
type UpdateRequest struct {
	Fingerprint string  `json:"fingerprint" binding:"required"`
	MetadataRef *string `json:"metadata_ref,omitempty"`
}

// ValidateRequest is the payload for an integrity check.
type ValidateRequest struct {
	Fingerprint string `json:"fingerprint" binding:"required"`
}

// GrantRequest is the payload for granting or revoking a capability.
type GrantRequest struct {
	Identity   string     `json:"identity" binding:"required"`
	Capability Capability `json:"capability" binding:"required"`
}

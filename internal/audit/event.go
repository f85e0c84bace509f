// Package audit defines the immutable audit events emitted by the data
// integrity contract, and their conversion to and from the opaque event
// records carried on commit receipts.
//
// Events are values attached to state transitions, never scraped from
// logs: the backend emits them in the receipt of the commit that caused
// them, and they are never mutated or deleted afterwards.
package audit

import (
	"fmt"
	"strconv"
	"time"

	"github.com/comfortage/dataintegrity/internal/fingerprint"
)

// Kind names an audit event type.
type Kind string

const (
	// RecordCreated — a record was stored for the first time.
	RecordCreated Kind = "record_created"
	// RecordUpdated — a new fingerprint was appended to a record.
	RecordUpdated Kind = "record_updated"
	// IntegrityChecked — a privileged validation ran; emitted whether or
	// not the candidate matched.
	IntegrityChecked Kind = "integrity_checked"
)

// Event is one immutable audit trail entry.
//
// Old is set only for RecordUpdated. Candidate, Stored and IsValid are set
// only for IntegrityChecked; for that kind New is unused.
type Event struct {
	Kind     Kind      `json:"kind"`
	RecordID string    `json:"record_id"`
	Actor    string    `json:"actor"`
	Sequence uint64    `json:"sequence"`
	Time     time.Time `json:"time"`

	Old *fingerprint.Fingerprint `json:"old_fingerprint,omitempty"`
	New fingerprint.Fingerprint  `json:"new_fingerprint,omitempty"`

	Candidate fingerprint.Fingerprint `json:"candidate,omitempty"`
	Stored    fingerprint.Fingerprint `json:"stored,omitempty"`
	IsValid   *bool                   `json:"is_valid,omitempty"`
}

// Raw is the opaque structured form an event takes on a commit receipt.
// The transport is trusted for ordering but not for payload shape, so
// Decode validates every field it reads.
type Raw struct {
	Name  string            `json:"name"`
	Attrs map[string]string `json:"attrs"`
}

// Encode converts a typed event into its receipt representation.
func Encode(ev Event) Raw {
	attrs := map[string]string{
		"record_id": ev.RecordID,
		"actor":     ev.Actor,
		"sequence":  strconv.FormatUint(ev.Sequence, 10),
		"time":      ev.Time.UTC().Format(time.RFC3339Nano),
	}
	switch ev.Kind {
	case RecordCreated:
		attrs["new_fingerprint"] = ev.New.String()
	case RecordUpdated:
		attrs["new_fingerprint"] = ev.New.String()
		if ev.Old != nil {
			attrs["old_fingerprint"] = ev.Old.String()
		}
	case IntegrityChecked:
		attrs["candidate"] = ev.Candidate.String()
		attrs["stored"] = ev.Stored.String()
		attrs["is_valid"] = strconv.FormatBool(ev.IsValid != nil && *ev.IsValid)
	}
	return Raw{Name: string(ev.Kind), Attrs: attrs}
}

// Decode converts a receipt event record back into a typed event.
func Decode(raw Raw) (Event, error) {
	ev := Event{
		Kind:     Kind(raw.Name),
		RecordID: raw.Attrs["record_id"],
		Actor:    raw.Attrs["actor"],
	}
	if ev.RecordID == "" {
		return Event{}, fmt.Errorf("event %q missing record_id", raw.Name)
	}

	if s, ok := raw.Attrs["sequence"]; ok {
		seq, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Event{}, fmt.Errorf("event %q has bad sequence %q", raw.Name, s)
		}
		ev.Sequence = seq
	}
	if s, ok := raw.Attrs["time"]; ok {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Event{}, fmt.Errorf("event %q has bad time %q", raw.Name, s)
		}
		ev.Time = ts
	}

	switch ev.Kind {
	case RecordCreated, RecordUpdated:
		fp, err := fingerprint.Parse(raw.Attrs["new_fingerprint"])
		if err != nil {
			return Event{}, fmt.Errorf("event %q: new_fingerprint: %w", raw.Name, err)
		}
		ev.New = fp
		if old, ok := raw.Attrs["old_fingerprint"]; ok {
			oldFP, err := fingerprint.Parse(old)
			if err != nil {
				return Event{}, fmt.Errorf("event %q: old_fingerprint: %w", raw.Name, err)
			}
			ev.Old = &oldFP
		}
	case IntegrityChecked:
		cand, err := fingerprint.Parse(raw.Attrs["candidate"])
		if err != nil {
			return Event{}, fmt.Errorf("event %q: candidate: %w", raw.Name, err)
		}
		stored, err := fingerprint.Parse(raw.Attrs["stored"])
		if err != nil {
			return Event{}, fmt.Errorf("event %q: stored: %w", raw.Name, err)
		}
		valid, err := strconv.ParseBool(raw.Attrs["is_valid"])
		if err != nil {
			return Event{}, fmt.Errorf("event %q: is_valid: %w", raw.Name, err)
		}
		ev.Candidate = cand
		ev.Stored = stored
		ev.IsValid = &valid
	default:
		return Event{}, fmt.Errorf("unknown event kind %q", raw.Name)
	}
	return ev, nil
}

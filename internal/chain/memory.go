package chain

import (
	"context"
	"sync"
	"time"

	"github.com/comfortage/dataintegrity/internal/audit"
	"github.com/comfortage/dataintegrity/internal/fingerprint"
	"github.com/comfortage/dataintegrity/internal/integrity/model"
)

// MemoryBackend is an in-process, thread-safe Transport implementation.
// A single mutex serialises all mutations, which gives the same total
// commit order a real backend would; at most one mutation per submitting
// identity is ever in flight because Submit is synchronous.
//
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryBackend struct {
	mu      sync.RWMutex
	seq     uint64
	records map[string]*model.Record
	roles   map[string]map[model.Capability]model.RoleGrant
	trail   []audit.Raw
}

// NewMemoryBackend creates a MemoryBackend with genesisAdmin holding the
// admin capability at sequence zero, mirroring a contract constructor
// that receives the deployer address.
func NewMemoryBackend(genesisAdmin string) *MemoryBackend {
	b := &MemoryBackend{
		records: make(map[string]*model.Record),
		roles:   make(map[string]map[model.Capability]model.RoleGrant),
	}
	if genesisAdmin != "" {
		b.roles[genesisAdmin] = map[model.Capability]model.RoleGrant{
			model.CapAdmin: {
				Identity:   genesisAdmin,
				Capability: model.CapAdmin,
				GrantedBy:  genesisAdmin,
				GrantedAt:  time.Now().UTC(),
			},
		}
	}
	return b
}

// Submit implements Transport.
func (b *MemoryBackend) Submit(ctx context.Context, req MutationRequest) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	receipt := &Receipt{
		SubmissionID: req.SubmissionID,
		Time:         now,
	}

	reject := func(code RejectCode) (*Receipt, error) {
		receipt.Status = StatusRejected
		receipt.Reject = code
		return receipt, nil
	}

	switch req.Method {
	case MethodStoreRecord:
		if !b.holds(req.Sender, model.CapIngester) {
			return reject(RejectUnauthorized)
		}
		id := req.Args[ArgRecordID]
		if id == "" {
			return reject(RejectInvalidIdentifier)
		}
		fp, err := fingerprint.Parse(req.Args[ArgFingerprint])
		if err != nil || fp.IsZero() {
			return reject(RejectInvalidFingerprint)
		}
		if _, exists := b.records[id]; exists {
			return reject(RejectAlreadyExists)
		}

		b.seq++
		rec := &model.Record{
			ID:          id,
			Fingerprint: fp,
			History:     []fingerprint.Fingerprint{fp},
			SubmittedBy: req.Sender,
			Sequence:    b.seq,
			CommittedAt: now,
		}
		if ref, ok := req.Args[ArgMetadataRef]; ok {
			rec.MetadataRef = &ref
		}
		b.records[id] = rec
		b.emit(receipt, audit.Event{
			Kind:     audit.RecordCreated,
			RecordID: id,
			Actor:    req.Sender,
			Sequence: b.seq,
			Time:     now,
			New:      fp,
		})

	case MethodUpdateRecord:
		if !b.holds(req.Sender, model.CapIngester) {
			return reject(RejectUnauthorized)
		}
		id := req.Args[ArgRecordID]
		if id == "" {
			return reject(RejectInvalidIdentifier)
		}
		fp, err := fingerprint.Parse(req.Args[ArgFingerprint])
		if err != nil || fp.IsZero() {
			return reject(RejectInvalidFingerprint)
		}
		rec, exists := b.records[id]
		if !exists {
			return reject(RejectNotFound)
		}

		b.seq++
		old := rec.Fingerprint
		rec.History = append(rec.History, fp)
		rec.Fingerprint = fp
		rec.SubmittedBy = req.Sender
		rec.Sequence = b.seq
		rec.CommittedAt = now
		if ref, ok := req.Args[ArgMetadataRef]; ok {
			rec.MetadataRef = &ref
		}
		b.emit(receipt, audit.Event{
			Kind:     audit.RecordUpdated,
			RecordID: id,
			Actor:    req.Sender,
			Sequence: b.seq,
			Time:     now,
			Old:      &old,
			New:      fp,
		})

	case MethodValidateRecord:
		if !b.holds(req.Sender, model.CapValidator) {
			return reject(RejectUnauthorized)
		}
		id := req.Args[ArgRecordID]
		if id == "" {
			return reject(RejectInvalidIdentifier)
		}
		candidate, err := fingerprint.Parse(req.Args[ArgFingerprint])
		if err != nil {
			return reject(RejectInvalidFingerprint)
		}
		rec, exists := b.records[id]
		if !exists {
			return reject(RejectNotFound)
		}

		// The check itself never mutates the record, but it always
		// commits an IntegrityChecked event, match or not.
		b.seq++
		isValid := candidate == rec.Fingerprint
		b.emit(receipt, audit.Event{
			Kind:      audit.IntegrityChecked,
			RecordID:  id,
			Actor:     req.Sender,
			Sequence:  b.seq,
			Time:      now,
			Candidate: candidate,
			Stored:    rec.Fingerprint,
			IsValid:   &isValid,
		})

	case MethodGrantRole:
		if !b.holds(req.Sender, model.CapAdmin) {
			return reject(RejectUnauthorized)
		}
		identity := req.Args[ArgIdentity]
		cap := model.Capability(req.Args[ArgCapability])
		if identity == "" || !cap.Valid() {
			return reject(RejectInvalidIdentifier)
		}

		b.seq++
		if b.roles[identity] == nil {
			b.roles[identity] = make(map[model.Capability]model.RoleGrant)
		}
		if _, held := b.roles[identity][cap]; !held { // idempotent
			b.roles[identity][cap] = model.RoleGrant{
				Identity:   identity,
				Capability: cap,
				GrantedBy:  req.Sender,
				Sequence:   b.seq,
				GrantedAt:  now,
			}
		}

	case MethodRevokeRole:
		if !b.holds(req.Sender, model.CapAdmin) {
			return reject(RejectUnauthorized)
		}
		identity := req.Args[ArgIdentity]
		cap := model.Capability(req.Args[ArgCapability])
		if identity == "" || !cap.Valid() {
			return reject(RejectInvalidIdentifier)
		}

		b.seq++
		delete(b.roles[identity], cap) // idempotent

	default:
		return reject(RejectUnknownMethod)
	}

	receipt.Status = StatusCommitted
	receipt.Sequence = b.seq
	return receipt, nil
}

// emit appends the event to both the receipt and the committed trail.
func (b *MemoryBackend) emit(receipt *Receipt, ev audit.Event) {
	raw := audit.Encode(ev)
	receipt.Events = append(receipt.Events, raw)
	b.trail = append(b.trail, raw)
}

func (b *MemoryBackend) holds(identity string, cap model.Capability) bool {
	_, ok := b.roles[identity][cap]
	return ok
}

// GetRecord implements Transport.
func (b *MemoryBackend) GetRecord(_ context.Context, id string) (*model.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return rec.Clone(), nil
}

// GetHistory implements Transport.
func (b *MemoryBackend) GetHistory(_ context.Context, id string) ([]fingerprint.Fingerprint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return append([]fingerprint.Fingerprint(nil), rec.History...), nil
}

// RecordExists implements Transport.
func (b *MemoryBackend) RecordExists(_ context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.records[id]
	return ok, nil
}

// HasRole implements Transport.
func (b *MemoryBackend) HasRole(_ context.Context, identity string, cap model.Capability) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.holds(identity, cap), nil
}

// AuditTrail implements Transport.
func (b *MemoryBackend) AuditTrail(_ context.Context, recordID string) ([]audit.Raw, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if recordID == "" {
		return append([]audit.Raw(nil), b.trail...), nil
	}
	var out []audit.Raw
	for _, raw := range b.trail {
		if raw.Attrs["record_id"] == recordID {
			out = append(out, raw)
		}
	}
	return out, nil
}

// ProbeHealth implements Transport.
func (b *MemoryBackend) ProbeHealth(_ context.Context) (*Health, error) {
	start := time.Now()
	b.mu.RLock()
	seq := b.seq
	b.mu.RUnlock()
	return &Health{Sequence: seq, RoundTrip: time.Since(start)}, nil
}

// VerifyContract implements Transport. The in-process contract is always
// present.
func (b *MemoryBackend) VerifyContract(_ context.Context) error {
	return nil
}

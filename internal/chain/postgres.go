package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/comfortage/dataintegrity/internal/audit"
	"github.com/comfortage/dataintegrity/internal/fingerprint"
	"github.com/comfortage/dataintegrity/internal/integrity/model"
)

// advisoryLockKey serialises concurrent Submit calls across all service
// instances sharing the database. The value is arbitrary but must be
// consistent everywhere.
const advisoryLockKey = int64(7_320_114_553)

// PostgresBackend is a durable Transport implementation. Every mutation
// runs in a single transaction under an advisory lock, which yields the
// total commit order the core relies on.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresBackend creates a PostgresBackend on the given pool.
func NewPostgresBackend(pool *pgxpool.Pool, logger *zap.Logger) *PostgresBackend {
	return &PostgresBackend{pool: pool, logger: logger}
}

// EnsureSchema creates the contract tables if absent and seeds the commit
// head and the genesis admin grant.
func (b *PostgresBackend) EnsureSchema(ctx context.Context, genesisAdmin string) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS integrity_head (
			id       int PRIMARY KEY CHECK (id = 1),
			sequence bigint NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS integrity_records (
			id           text PRIMARY KEY,
			fingerprint  text NOT NULL,
			submitted_by text NOT NULL,
			sequence     bigint NOT NULL,
			committed_at timestamptz NOT NULL,
			metadata_ref text
		)`,
		`CREATE TABLE IF NOT EXISTS integrity_history (
			record_id   text NOT NULL REFERENCES integrity_records(id),
			idx         int NOT NULL,
			fingerprint text NOT NULL,
			PRIMARY KEY (record_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS integrity_roles (
			identity   text NOT NULL,
			capability text NOT NULL,
			granted_by text NOT NULL,
			sequence   bigint NOT NULL,
			granted_at timestamptz NOT NULL,
			PRIMARY KEY (identity, capability)
		)`,
		`CREATE TABLE IF NOT EXISTS integrity_events (
			sequence  bigint NOT NULL,
			ord       int NOT NULL,
			record_id text NOT NULL,
			name      text NOT NULL,
			attrs     jsonb NOT NULL,
			PRIMARY KEY (sequence, ord)
		)`,
		`INSERT INTO integrity_head (id, sequence) VALUES (1, 0)
			ON CONFLICT (id) DO NOTHING`,
	}
	for _, q := range ddl {
		if _, err := b.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	if genesisAdmin != "" {
		if _, err := b.pool.Exec(ctx,
			`INSERT INTO integrity_roles (identity, capability, granted_by, sequence, granted_at)
			 VALUES ($1, $2, $1, 0, now())
			 ON CONFLICT (identity, capability) DO NOTHING`,
			genesisAdmin, string(model.CapAdmin),
		); err != nil {
			return fmt.Errorf("seed genesis admin: %w", err)
		}
	}
	return nil
}

// Submit implements Transport. The whole mutation — role check, state
// transition, event emission, head bump — commits atomically or not at all.
func (b *PostgresBackend) Submit(ctx context.Context, req MutationRequest) (*Receipt, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var head uint64
	if err := tx.QueryRow(ctx, "SELECT sequence FROM integrity_head WHERE id = 1").Scan(&head); err != nil {
		return nil, fmt.Errorf("read commit head: %w", err)
	}

	now := time.Now().UTC()
	receipt := &Receipt{SubmissionID: req.SubmissionID, Time: now}

	code, events, err := b.apply(ctx, tx, req, head+1, now)
	if err != nil {
		return nil, err
	}
	if code != "" {
		// Rejections roll back; no commit slot is consumed.
		receipt.Status = StatusRejected
		receipt.Reject = code
		return receipt, nil
	}

	for ord, ev := range events {
		raw := audit.Encode(ev)
		receipt.Events = append(receipt.Events, raw)
		if _, err := tx.Exec(ctx,
			`INSERT INTO integrity_events (sequence, ord, record_id, name, attrs)
			 VALUES ($1, $2, $3, $4, $5)`,
			head+1, ord, ev.RecordID, raw.Name, raw.Attrs,
		); err != nil {
			return nil, fmt.Errorf("insert event: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, "UPDATE integrity_head SET sequence = $1 WHERE id = 1", head+1); err != nil {
		return nil, fmt.Errorf("advance commit head: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit mutation: %w", err)
	}

	receipt.Status = StatusCommitted
	receipt.Sequence = head + 1

	b.logger.Debug("mutation committed",
		zap.String("method", req.Method),
		zap.String("sender", req.Sender),
		zap.Uint64("sequence", receipt.Sequence),
	)
	return receipt, nil
}

// apply executes one contract method inside tx. It returns a non-empty
// RejectCode for contract-level refusals and events for committed ones.
func (b *PostgresBackend) apply(ctx context.Context, tx pgx.Tx, req MutationRequest, seq uint64, now time.Time) (RejectCode, []audit.Event, error) {
	holds := func(identity string, cap model.Capability) (bool, error) {
		var n int
		err := tx.QueryRow(ctx,
			"SELECT COUNT(*) FROM integrity_roles WHERE identity = $1 AND capability = $2",
			identity, string(cap),
		).Scan(&n)
		return n > 0, err
	}

	switch req.Method {
	case MethodStoreRecord, MethodUpdateRecord:
		ok, err := holds(req.Sender, model.CapIngester)
		if err != nil {
			return "", nil, fmt.Errorf("role check: %w", err)
		}
		if !ok {
			return RejectUnauthorized, nil, nil
		}
		id := req.Args[ArgRecordID]
		if id == "" {
			return RejectInvalidIdentifier, nil, nil
		}
		fp, err := fingerprint.Parse(req.Args[ArgFingerprint])
		if err != nil || fp.IsZero() {
			return RejectInvalidFingerprint, nil, nil
		}

		var histLen int
		var current string
		err = tx.QueryRow(ctx,
			`SELECT r.fingerprint, (SELECT COUNT(*) FROM integrity_history h WHERE h.record_id = r.id)
			 FROM integrity_records r WHERE r.id = $1`, id,
		).Scan(&current, &histLen)
		exists := true
		if errors.Is(err, pgx.ErrNoRows) {
			exists = false
		} else if err != nil {
			return "", nil, fmt.Errorf("read record: %w", err)
		}

		metaRef, hasMeta := req.Args[ArgMetadataRef]

		if req.Method == MethodStoreRecord {
			if exists {
				return RejectAlreadyExists, nil, nil
			}
			var refArg *string
			if hasMeta {
				refArg = &metaRef
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO integrity_records (id, fingerprint, submitted_by, sequence, committed_at, metadata_ref)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				id, fp.String(), req.Sender, seq, now, refArg,
			); err != nil {
				return "", nil, fmt.Errorf("insert record: %w", err)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO integrity_history (record_id, idx, fingerprint) VALUES ($1, 0, $2)",
				id, fp.String(),
			); err != nil {
				return "", nil, fmt.Errorf("insert history: %w", err)
			}
			return "", []audit.Event{{
				Kind: audit.RecordCreated, RecordID: id, Actor: req.Sender,
				Sequence: seq, Time: now, New: fp,
			}}, nil
		}

		// updateRecord
		if !exists {
			return RejectNotFound, nil, nil
		}
		old, err := fingerprint.Parse(current)
		if err != nil {
			return "", nil, fmt.Errorf("stored fingerprint corrupt for %q: %w", id, err)
		}
		set := "UPDATE integrity_records SET fingerprint = $2, submitted_by = $3, sequence = $4, committed_at = $5 WHERE id = $1"
		args := []any{id, fp.String(), req.Sender, seq, now}
		if hasMeta {
			set = "UPDATE integrity_records SET fingerprint = $2, submitted_by = $3, sequence = $4, committed_at = $5, metadata_ref = $6 WHERE id = $1"
			args = append(args, metaRef)
		}
		if _, err := tx.Exec(ctx, set, args...); err != nil {
			return "", nil, fmt.Errorf("update record: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO integrity_history (record_id, idx, fingerprint) VALUES ($1, $2, $3)",
			id, histLen, fp.String(),
		); err != nil {
			return "", nil, fmt.Errorf("append history: %w", err)
		}
		return "", []audit.Event{{
			Kind: audit.RecordUpdated, RecordID: id, Actor: req.Sender,
			Sequence: seq, Time: now, Old: &old, New: fp,
		}}, nil

	case MethodValidateRecord:
		ok, err := holds(req.Sender, model.CapValidator)
		if err != nil {
			return "", nil, fmt.Errorf("role check: %w", err)
		}
		if !ok {
			return RejectUnauthorized, nil, nil
		}
		id := req.Args[ArgRecordID]
		if id == "" {
			return RejectInvalidIdentifier, nil, nil
		}
		candidate, err := fingerprint.Parse(req.Args[ArgFingerprint])
		if err != nil {
			return RejectInvalidFingerprint, nil, nil
		}

		var current string
		err = tx.QueryRow(ctx, "SELECT fingerprint FROM integrity_records WHERE id = $1", id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return RejectNotFound, nil, nil
		}
		if err != nil {
			return "", nil, fmt.Errorf("read record: %w", err)
		}
		stored, err := fingerprint.Parse(current)
		if err != nil {
			return "", nil, fmt.Errorf("stored fingerprint corrupt for %q: %w", id, err)
		}

		isValid := candidate == stored
		return "", []audit.Event{{
			Kind: audit.IntegrityChecked, RecordID: id, Actor: req.Sender,
			Sequence: seq, Time: now, Candidate: candidate, Stored: stored, IsValid: &isValid,
		}}, nil

	case MethodGrantRole, MethodRevokeRole:
		ok, err := holds(req.Sender, model.CapAdmin)
		if err != nil {
			return "", nil, fmt.Errorf("role check: %w", err)
		}
		if !ok {
			return RejectUnauthorized, nil, nil
		}
		identity := req.Args[ArgIdentity]
		cap := model.Capability(req.Args[ArgCapability])
		if identity == "" || !cap.Valid() {
			return RejectInvalidIdentifier, nil, nil
		}

		if req.Method == MethodGrantRole {
			// Idempotent: an already-held grant is left untouched.
			if _, err := tx.Exec(ctx,
				`INSERT INTO integrity_roles (identity, capability, granted_by, sequence, granted_at)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (identity, capability) DO NOTHING`,
				identity, string(cap), req.Sender, seq, now,
			); err != nil {
				return "", nil, fmt.Errorf("grant role: %w", err)
			}
		} else {
			if _, err := tx.Exec(ctx,
				"DELETE FROM integrity_roles WHERE identity = $1 AND capability = $2",
				identity, string(cap),
			); err != nil {
				return "", nil, fmt.Errorf("revoke role: %w", err)
			}
		}
		return "", nil, nil

	default:
		return RejectUnknownMethod, nil, nil
	}
}

// GetRecord implements Transport.
func (b *PostgresBackend) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	rec := &model.Record{}
	var fp string
	err := b.pool.QueryRow(ctx,
		`SELECT id, fingerprint, submitted_by, sequence, committed_at, metadata_ref
		 FROM integrity_records WHERE id = $1`, id,
	).Scan(&rec.ID, &fp, &rec.SubmittedBy, &rec.Sequence, &rec.CommittedAt, &rec.MetadataRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %q: %w", id, err)
	}
	if rec.Fingerprint, err = fingerprint.Parse(fp); err != nil {
		return nil, fmt.Errorf("stored fingerprint corrupt for %q: %w", id, err)
	}
	if rec.History, err = b.GetHistory(ctx, id); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetHistory implements Transport.
func (b *PostgresBackend) GetHistory(ctx context.Context, id string) ([]fingerprint.Fingerprint, error) {
	rows, err := b.pool.Query(ctx,
		"SELECT fingerprint FROM integrity_history WHERE record_id = $1 ORDER BY idx ASC", id,
	)
	if err != nil {
		return nil, fmt.Errorf("query history %q: %w", id, err)
	}
	defer rows.Close()

	var history []fingerprint.Fingerprint
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		fp, err := fingerprint.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("stored fingerprint corrupt for %q: %w", id, err)
		}
		history = append(history, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, model.ErrNotFound
	}
	return history, nil
}

// RecordExists implements Transport.
func (b *PostgresBackend) RecordExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := b.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM integrity_records WHERE id = $1", id,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("record exists %q: %w", id, err)
	}
	return n > 0, nil
}

// HasRole implements Transport.
func (b *PostgresBackend) HasRole(ctx context.Context, identity string, cap model.Capability) (bool, error) {
	var n int
	if err := b.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM integrity_roles WHERE identity = $1 AND capability = $2",
		identity, string(cap),
	).Scan(&n); err != nil {
		return false, fmt.Errorf("role check %q: %w", identity, err)
	}
	return n > 0, nil
}

// AuditTrail implements Transport.
func (b *PostgresBackend) AuditTrail(ctx context.Context, recordID string) ([]audit.Raw, error) {
	q := "SELECT name, attrs FROM integrity_events ORDER BY sequence ASC, ord ASC"
	args := []any{}
	if recordID != "" {
		q = "SELECT name, attrs FROM integrity_events WHERE record_id = $1 ORDER BY sequence ASC, ord ASC"
		args = append(args, recordID)
	}
	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var out []audit.Raw
	for rows.Next() {
		var raw audit.Raw
		if err := rows.Scan(&raw.Name, &raw.Attrs); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, raw)
	}
	return out, rows.Err()
}

// ProbeHealth implements Transport.
func (b *PostgresBackend) ProbeHealth(ctx context.Context) (*Health, error) {
	start := time.Now()
	var seq uint64
	if err := b.pool.QueryRow(ctx, "SELECT sequence FROM integrity_head WHERE id = 1").Scan(&seq); err != nil {
		return nil, fmt.Errorf("health probe: %w", err)
	}
	return &Health{Sequence: seq, RoundTrip: time.Since(start)}, nil
}

// VerifyContract implements Transport. Presence of the seeded head row is
// the equivalent of finding contract code at the configured address.
func (b *PostgresBackend) VerifyContract(ctx context.Context) error {
	var n int
	if err := b.pool.QueryRow(ctx, "SELECT COUNT(*) FROM integrity_head WHERE id = 1").Scan(&n); err != nil {
		return fmt.Errorf("contract presence probe: %w", err)
	}
	if n == 0 {
		return errors.New("integrity contract not initialised on backend")
	}
	return nil
}

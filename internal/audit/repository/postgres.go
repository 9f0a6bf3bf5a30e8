package repository

import (
	"context"
	"database/sql"

	"embedded-session-auth/internal/audit/domain"
)

const insertEventSQL = `
INSERT INTO session_audit_log (id, family_id, token_id, kind, at, network_address, fingerprint_hash, detail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit repository that uses the given db for
// persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append inserts one audit event. Returns an error if the insert does not
// durably commit; callers must treat that as fatal to the triggering operation.
func (r *PostgresRepository) Append(ctx context.Context, ev *domain.Event) error {
	_, err := r.db.ExecContext(ctx, insertEventSQL,
		ev.ID,
		nullEmpty(ev.FamilyID),
		nullEmpty(ev.TokenID),
		string(ev.Kind),
		ev.At,
		ev.NetworkAddress,
		ev.FingerprintHash,
		ev.Detail,
	)
	return err
}

// AppendTx inserts one audit event inside an existing transaction, so a state
// transition and its audit record commit or abort together.
func AppendTx(ctx context.Context, tx *sql.Tx, ev *domain.Event) error {
	_, err := tx.ExecContext(ctx, insertEventSQL,
		ev.ID,
		nullEmpty(ev.FamilyID),
		nullEmpty(ev.TokenID),
		string(ev.Kind),
		ev.At,
		ev.NetworkAddress,
		ev.FingerprintHash,
		ev.Detail,
	)
	return err
}

// ListByFamily returns events for the family ordered by ID (ULIDs, so
// insertion order), paginated by limit and offset.
func (r *PostgresRepository) ListByFamily(ctx context.Context, familyID string, limit, offset int32) ([]*domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, family_id, token_id, kind, at, network_address, fingerprint_hash, detail
FROM session_audit_log
WHERE family_id = $1
ORDER BY id
LIMIT $2 OFFSET $3`, familyID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		var ev domain.Event
		var familyID, tokenID sql.NullString
		if err := rows.Scan(&ev.ID, &familyID, &tokenID, &ev.Kind, &ev.At, &ev.NetworkAddress, &ev.FingerprintHash, &ev.Detail); err != nil {
			return nil, err
		}
		ev.FamilyID = familyID.String
		ev.TokenID = tokenID.String
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func nullEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	auditdomain "embedded-session-auth/internal/audit/domain"
	auditrepo "embedded-session-auth/internal/audit/repository"
	"embedded-session-auth/internal/session/domain"
)

// PostgresStore implements Store on Postgres via database/sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a session store that uses the given db for
// persistence.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectTokenCols = `id, family_id, secret_hash, state, issued_at, expires_at, consumed_at, successor_id, fingerprint_hash, network_address`

// GetTokenBySecretHash resolves a secret hash to its token and family.
// Returns (nil, nil, nil) when the hash is unknown.
func (s *PostgresStore) GetTokenBySecretHash(ctx context.Context, secretHash string) (*domain.Token, *domain.Family, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT t.id, t.family_id, t.secret_hash, t.state, t.issued_at, t.expires_at, t.consumed_at, t.successor_id, t.fingerprint_hash, t.network_address,
       f.id, f.workspace_id, f.subject_id, f.status, f.created_at
FROM session_tokens t
JOIN session_families f ON f.id = t.family_id
WHERE t.secret_hash = $1`, secretHash)

	var t domain.Token
	var f domain.Family
	var consumedAt sql.NullTime
	var successorID sql.NullString
	err := row.Scan(
		&t.ID, &t.FamilyID, &t.SecretHash, &t.State, &t.IssuedAt, &t.ExpiresAt, &consumedAt, &successorID, &t.FingerprintHash, &t.NetworkAddress,
		&f.ID, &f.WorkspaceID, &f.SubjectID, &f.Status, &f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	t.ConsumedAt = nullTimeToPtr(consumedAt)
	t.SuccessorID = successorID.String
	return &t, &f, nil
}

// GetToken returns the token for id, or nil if not found.
func (s *PostgresStore) GetToken(ctx context.Context, id string) (*domain.Token, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectTokenCols+` FROM session_tokens WHERE id = $1`, id)
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// CreateFamily inserts the family, its first generation, and the Issued audit
// event in one transaction.
func (s *PostgresStore) CreateFamily(ctx context.Context, f *domain.Family, t *domain.Token, ev *auditdomain.Event) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO session_families (id, workspace_id, subject_id, status, created_at)
VALUES ($1, $2, $3, $4, $5)`,
			f.ID, f.WorkspaceID, f.SubjectID, string(f.Status), f.CreatedAt); err != nil {
			return err
		}
		if err := insertTokenTx(ctx, tx, t); err != nil {
			return err
		}
		return auditrepo.AppendTx(ctx, tx, ev)
	})
}

// Rotate performs the optimistic-concurrency rotation: the conditional update
// on the predecessor succeeds only while it is still Active, so exactly one of
// two concurrent rotations wins.
func (s *PostgresStore) Rotate(ctx context.Context, predecessorID string, consumedAt time.Time, successor *domain.Token, ev *auditdomain.Event) (bool, error) {
	won := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE session_tokens
SET state = $1, consumed_at = $2, successor_id = $3
WHERE id = $4 AND state = $5`,
			string(domain.TokenStateConsumed), consumedAt, successor.ID, predecessorID, string(domain.TokenStateActive))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errNoTransition
		}
		if err := insertTokenTx(ctx, tx, successor); err != nil {
			return err
		}
		if err := auditrepo.AppendTx(ctx, tx, ev); err != nil {
			return err
		}
		won = true
		return nil
	})
	if errors.Is(err, errNoTransition) {
		return false, nil
	}
	return won, err
}

// MarkTokenDead transitions an Active token to Dead and appends ev.
func (s *PostgresStore) MarkTokenDead(ctx context.Context, tokenID string, ev *auditdomain.Event) (bool, error) {
	changed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE session_tokens SET state = $1 WHERE id = $2 AND state = $3`,
			string(domain.TokenStateDead), tokenID, string(domain.TokenStateActive))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errNoTransition
		}
		if err := auditrepo.AppendTx(ctx, tx, ev); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if errors.Is(err, errNoTransition) {
		return false, nil
	}
	return changed, err
}

// RevokeFamily revokes the family and sweeps every generation in it with a
// single family-keyed update, then appends ev. No-op when already revoked.
func (s *PostgresStore) RevokeFamily(ctx context.Context, familyID string, ev *auditdomain.Event) (bool, error) {
	changed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := revokeFamilyTx(ctx, tx, familyID)
		if err != nil {
			return err
		}
		if n == 0 {
			return errNoTransition
		}
		if err := auditrepo.AppendTx(ctx, tx, ev); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if errors.Is(err, errNoTransition) {
		return false, nil
	}
	return changed, err
}

// RevokeAllForSubject revokes every active family for (workspace, subject),
// one audit event per family.
func (s *PostgresStore) RevokeAllForSubject(ctx context.Context, workspaceID, subjectID string, evTemplate *auditdomain.Event) (int, error) {
	revoked := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT id FROM session_families WHERE workspace_id = $1 AND subject_id = $2 AND status = $3`,
			workspaceID, subjectID, string(domain.FamilyStatusActive))
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			if _, err := revokeFamilyTx(ctx, tx, id); err != nil {
				return err
			}
			ev := *evTemplate
			ev.ID = ulid.Make().String()
			ev.FamilyID = id
			if err := auditrepo.AppendTx(ctx, tx, &ev); err != nil {
				return err
			}
			revoked++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return revoked, nil
}

// PurgeExpired deletes terminal generations past the horizon and revoked
// families left with no generations.
func (s *PostgresStore) PurgeExpired(ctx context.Context, horizon time.Time) (int64, error) {
	var total int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM session_tokens
WHERE state IN ($1, $2) AND expires_at < $3`,
			string(domain.TokenStateDead), string(domain.TokenStateRevoked), horizon)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		total += n

		res, err = tx.ExecContext(ctx, `
DELETE FROM session_families f
WHERE f.status = $1 AND NOT EXISTS (SELECT 1 FROM session_tokens t WHERE t.family_id = f.id)`,
			string(domain.FamilyStatusRevoked))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// errNoTransition aborts a transaction whose conditional update matched no
// rows; callers translate it to a false return, not an error.
var errNoTransition = errors.New("no transition")

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertTokenTx(ctx context.Context, tx *sql.Tx, t *domain.Token) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO session_tokens (id, family_id, secret_hash, state, issued_at, expires_at, consumed_at, successor_id, fingerprint_hash, network_address)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.FamilyID, t.SecretHash, string(t.State), t.IssuedAt, t.ExpiresAt,
		timeToNullTime(t.ConsumedAt),
		sql.NullString{String: t.SuccessorID, Valid: t.SuccessorID != ""},
		t.FingerprintHash, t.NetworkAddress)
	return err
}

func revokeFamilyTx(ctx context.Context, tx *sql.Tx, familyID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
UPDATE session_families SET status = $1 WHERE id = $2 AND status = $3`,
		string(domain.FamilyStatusRevoked), familyID, string(domain.FamilyStatusActive))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	// Single indexed sweep over the chain, not a successor-pointer walk.
	if _, err := tx.ExecContext(ctx, `
UPDATE session_tokens SET state = $1 WHERE family_id = $2`,
		string(domain.TokenStateRevoked), familyID); err != nil {
		return 0, err
	}
	return n, nil
}

func scanToken(row *sql.Row) (*domain.Token, error) {
	var t domain.Token
	var consumedAt sql.NullTime
	var successorID sql.NullString
	if err := row.Scan(&t.ID, &t.FamilyID, &t.SecretHash, &t.State, &t.IssuedAt, &t.ExpiresAt, &consumedAt, &successorID, &t.FingerprintHash, &t.NetworkAddress); err != nil {
		return nil, err
	}
	t.ConsumedAt = nullTimeToPtr(consumedAt)
	t.SuccessorID = successorID.String
	return &t, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}

package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/ports"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Schema creates the credentials table. Key material arrives opaque; its
// encryption at rest is an external concern.
const Schema = `
CREATE TABLE IF NOT EXISTS credentials (
    credential_id             TEXT PRIMARY KEY,
    provider                  TEXT NOT NULL,
    key_material              TEXT NOT NULL,
    per_minute_limit          INTEGER NOT NULL,
    per_day_limit             INTEGER NOT NULL,
    current_minute_count      INTEGER NOT NULL DEFAULT 0,
    current_day_count         INTEGER NOT NULL DEFAULT 0,
    minute_window_reset_at    TIMESTAMPTZ NOT NULL,
    day_window_reset_at       TIMESTAMPTZ NOT NULL,
    status                    TEXT NOT NULL DEFAULT 'active',
    consecutive_failure_count INTEGER NOT NULL DEFAULT 0,
    last_used_at              TIMESTAMPTZ,
    priority                  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS credentials_provider_idx ON credentials (provider);
`

// PostgresStore persists credentials. TryAcquire is a single conditional
// UPDATE, so the quota invariant holds across concurrent processes, not just
// goroutines.
type PostgresStore struct {
	db *sql.DB
}

var _ ports.CredentialStore = (*PostgresStore)(nil)

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the credentials table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure credentials schema: %w", err)
	}
	return nil
}

// Seed upserts credentials from configuration. Limits, key material, and
// priority follow config; live counters and health state are preserved.
func (s *PostgresStore) Seed(ctx context.Context, creds []domain.Credential) error {
	const upsert = `
		INSERT INTO credentials (credential_id, provider, key_material, per_minute_limit,
			per_day_limit, minute_window_reset_at, day_window_reset_at, status, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'active', $8)
		ON CONFLICT (credential_id) DO UPDATE
		SET key_material = EXCLUDED.key_material,
		    per_minute_limit = EXCLUDED.per_minute_limit,
		    per_day_limit = EXCLUDED.per_day_limit,
		    priority = EXCLUDED.priority`

	now := time.Now()
	for _, cred := range creds {
		_, err := s.db.ExecContext(ctx, upsert,
			cred.CredentialID, cred.Provider, cred.KeyMaterial,
			cred.PerMinuteLimit, cred.PerDayLimit,
			now.Add(time.Minute), now.Add(24*time.Hour), cred.Priority)
		if err != nil {
			return fmt.Errorf("seed credential %s: %w", cred.CredentialID, err)
		}
	}
	return nil
}

// ListByProvider returns the provider's credentials in a stable order.
func (s *PostgresStore) ListByProvider(ctx context.Context, provider string) ([]domain.Credential, error) {
	query, args, err := psql.Select("credential_id", "provider", "key_material",
		"per_minute_limit", "per_day_limit", "current_minute_count", "current_day_count",
		"minute_window_reset_at", "day_window_reset_at", "status",
		"consecutive_failure_count", "last_used_at", "priority").
		From("credentials").
		Where(sq.Eq{"provider": provider}).
		OrderBy("credential_id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build credentials select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []domain.Credential
	for rows.Next() {
		var (
			cred       domain.Credential
			status     string
			lastUsedAt sql.NullTime
		)
		err := rows.Scan(&cred.CredentialID, &cred.Provider, &cred.KeyMaterial,
			&cred.PerMinuteLimit, &cred.PerDayLimit, &cred.CurrentMinuteCount,
			&cred.CurrentDayCount, &cred.MinuteWindowResetAt, &cred.DayWindowResetAt,
			&status, &cred.ConsecutiveFailureCount, &lastUsedAt, &cred.Priority)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		cred.Status = domain.CredentialStatus(status)
		if lastUsedAt.Valid {
			cred.LastUsedAt = lastUsedAt.Time
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credentials rows: %w", err)
	}
	return creds, nil
}

// TryAcquire reserves one call in a single conditional UPDATE that also
// performs the lazy window reset. Zero rows affected means the credential
// cannot serve right now.
func (s *PostgresStore) TryAcquire(ctx context.Context, credentialID string, now time.Time) (bool, error) {
	const acquire = `
		UPDATE credentials SET
			current_minute_count = CASE WHEN minute_window_reset_at <= $1 THEN 1 ELSE current_minute_count + 1 END,
			minute_window_reset_at = CASE WHEN minute_window_reset_at <= $1 THEN $1 + interval '1 minute' ELSE minute_window_reset_at END,
			current_day_count = CASE WHEN day_window_reset_at <= $1 THEN 1 ELSE current_day_count + 1 END,
			day_window_reset_at = CASE WHEN day_window_reset_at <= $1 THEN $1 + interval '1 day' ELSE day_window_reset_at END,
			status = CASE WHEN status = 'rate_limited' AND minute_window_reset_at <= $1 THEN 'active' ELSE status END
		WHERE credential_id = $2
		  AND (status = 'active' OR (status = 'rate_limited' AND minute_window_reset_at <= $1))
		  AND (CASE WHEN minute_window_reset_at <= $1 THEN 0 ELSE current_minute_count END) < per_minute_limit
		  AND (CASE WHEN day_window_reset_at <= $1 THEN 0 ELSE current_day_count END) < per_day_limit`

	result, err := s.db.ExecContext(ctx, acquire, now, credentialID)
	if err != nil {
		return false, fmt.Errorf("acquire credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire rows affected: %w", err)
	}
	return affected > 0, nil
}

// RecordSuccess finalizes a successful call.
func (s *PostgresStore) RecordSuccess(ctx context.Context, credentialID string, now time.Time) error {
	query, args, err := psql.Update("credentials").
		Set("consecutive_failure_count", 0).
		Set("last_used_at", now).
		Where(sq.Eq{"credential_id": credentialID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build success update: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	return requireRow(result)
}

// RecordFailure applies the health state machine atomically and returns the
// resulting status.
func (s *PostgresStore) RecordFailure(ctx context.Context, credentialID string, isRateLimit bool, suspendThreshold int, now time.Time) (domain.CredentialStatus, error) {
	const fail = `
		UPDATE credentials SET
			last_used_at = $1,
			consecutive_failure_count = CASE WHEN $2 THEN consecutive_failure_count ELSE consecutive_failure_count + 1 END,
			status = CASE
				WHEN status = 'suspended' THEN status
				WHEN $2 THEN 'rate_limited'
				WHEN consecutive_failure_count + 1 >= $3 THEN 'suspended'
				ELSE status
			END
		WHERE credential_id = $4
		RETURNING status`

	var status string
	err := s.db.QueryRowContext(ctx, fail, now, isRateLimit, suspendThreshold, credentialID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrCredentialNotFound
	}
	if err != nil {
		return "", fmt.Errorf("record failure: %w", err)
	}
	return domain.CredentialStatus(status), nil
}

// Reactivate restores a suspended credential to rotation.
func (s *PostgresStore) Reactivate(ctx context.Context, credentialID string) error {
	query, args, err := psql.Update("credentials").
		Set("status", string(domain.CredentialActive)).
		Set("consecutive_failure_count", 0).
		Where(sq.Eq{"credential_id": credentialID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reactivate update: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("reactivate credential: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCredentialNotFound
	}
	return nil
}

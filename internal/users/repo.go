package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/botpanel-dev/bot-panel-backend/internal/artifacts/domain"
	"github.com/google/uuid"
)

// Repo is the Postgres-backed user directory: accounts plus the
// append-only upload log.
type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// GetAccount returns ErrAccountNotFound for unknown ids.
func (r *Repo) GetAccount(ctx context.Context, id int64) (*Account, error) {
	const q = `
SELECT id, password_hash, verified, created_at, verified_at
FROM accounts
WHERE id = $1
`
	var (
		acct       Account
		verifiedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&acct.ID,
		&acct.PasswordHash,
		&acct.Verified,
		&acct.CreatedAt,
		&verifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	if verifiedAt.Valid {
		acct.VerifiedAt = &verifiedAt.Time
	}
	return &acct, nil
}

// CreateAccount inserts an unverified account.
func (r *Repo) CreateAccount(ctx context.Context, id int64, passwordHash string) error {
	const q = `
INSERT INTO accounts (id, password_hash, verified)
VALUES ($1, $2, FALSE)
ON CONFLICT (id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q, id, passwordHash)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	if n == 0 {
		return ErrAccountExists
	}
	return nil
}

// MarkVerified flips verified to true. Already-verified accounts keep their
// original verified_at.
func (r *Repo) MarkVerified(ctx context.Context, id int64) error {
	const q = `
UPDATE accounts
SET verified = TRUE,
    verified_at = COALESCE(verified_at, NOW())
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// RecordUpload appends to the upload log.
func (r *Repo) RecordUpload(ctx context.Context, rec domain.UploadRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	const q = `
INSERT INTO uploads (id, owner_id, artifact_name, size, uploaded_at)
VALUES ($1, $2, $3, $4, $5)
`
	if _, err := r.db.ExecContext(ctx, q, rec.ID, rec.OwnerID, rec.ArtifactName, rec.Size, rec.UploadedAt); err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	return nil
}

// RecentUploads lists the owner's latest uploads, newest first.
func (r *Repo) RecentUploads(ctx context.Context, ownerID int64, limit int) ([]domain.UploadRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	const q = `
SELECT id, owner_id, artifact_name, size, uploaded_at
FROM uploads
WHERE owner_id = $1
ORDER BY uploaded_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var out []domain.UploadRecord
	for rows.Next() {
		var rec domain.UploadRecord
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.ArtifactName, &rec.Size, &rec.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return out, nil
}

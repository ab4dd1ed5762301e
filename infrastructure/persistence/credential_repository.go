package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

type CredentialRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewCredentialRepository(db *sql.DB, dialect Dialect) repository.ICredential {
	return &CredentialRepository{db: db, dialect: dialect}
}

func (r *CredentialRepository) Upsert(ctx context.Context, c *model.Credential) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	var exp sql.NullTime
	if !c.ExpiresAt.IsZero() {
		exp = sql.NullTime{Time: c.ExpiresAt.UTC(), Valid: true}
	}
	q := `INSERT INTO marketplace_credentials (owner_id, platform, access_token, refresh_token, token_type, expires_at, scopes, created_at, updated_at)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		  ON CONFLICT (owner_id, platform) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			token_type=EXCLUDED.token_type,
			expires_at=EXCLUDED.expires_at,
			scopes=EXCLUDED.scopes,
			updated_at=EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, rebind(r.dialect, q), c.OwnerID, c.Platform, c.AccessToken, c.RefreshToken, c.TokenType, exp, c.Scopes, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *CredentialRepository) Get(ctx context.Context, ownerID, platform string) (*model.Credential, error) {
	row := r.db.QueryRowContext(ctx, rebind(r.dialect, `SELECT id, owner_id, platform, access_token, refresh_token, token_type, expires_at, scopes, created_at, updated_at
		FROM marketplace_credentials WHERE owner_id=$1 AND platform=$2`), ownerID, platform)
	c := &model.Credential{}
	var exp sql.NullTime
	var tokenType sql.NullString
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Platform, &c.AccessToken, &c.RefreshToken, &tokenType, &exp, &c.Scopes, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if exp.Valid {
		c.ExpiresAt = exp.Time
	}
	c.TokenType = tokenType.String
	return c, nil
}

// ListPlatforms returns the platforms ownerID has connected, sorted by name.
func (r *CredentialRepository) ListPlatforms(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, rebind(r.dialect, `SELECT platform FROM marketplace_credentials WHERE owner_id=$1 ORDER BY platform`), ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

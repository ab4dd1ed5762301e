package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

// PostingStatusRepository stores operations in posting_statuses and one row per
// platform in posting_attempts.
type PostingStatusRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewPostingStatusRepository(db *sql.DB, dialect Dialect) repository.IPostingStatus {
	return &PostingStatusRepository{db: db, dialect: dialect}
}

const statusColumns = `s.id, s.product_id, s.requester_id, s.retry_of, s.completed, s.created_at, s.completed_at,
	a.platform, a.status, a.attempts, a.last_attempt_at, a.listing_id, a.listing_url, a.error_kind, a.error_message, a.updated_at`

func (r *PostingStatusRepository) q(query string) string { return rebind(r.dialect, query) }

func (r *PostingStatusRepository) Create(ctx context.Context, status *model.PostingStatus) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, r.q(`INSERT INTO posting_statuses (id, product_id, requester_id, retry_of, completed, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`),
		status.ID, status.ProductID, status.RequesterID, status.RetryOf, status.Completed, status.CreatedAt.UTC(), utcPtr(status.CompletedAt)); err != nil {
		return err
	}
	for i, a := range status.Attempts {
		updated := a.UpdatedAt
		if updated.IsZero() {
			updated = status.CreatedAt
		}
		kind, msg := resultFailure(a.Result)
		lid, lurl := resultListing(a.Result)
		if _, err = tx.ExecContext(ctx, r.q(`INSERT INTO posting_attempts (status_id, platform, position, status, attempts, last_attempt_at, listing_id, listing_url, error_kind, error_message, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`),
			status.ID, a.Platform, i, string(a.Status), a.Attempts, utcPtr(a.LastAttemptAt), lid, lurl, kind, msg, updated.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PostingStatusRepository) Get(ctx context.Context, id string) (*model.PostingStatus, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`SELECT `+statusColumns+`
		FROM posting_statuses s
		JOIN posting_attempts a ON a.status_id = s.id
		WHERE s.id = $1
		ORDER BY a.position`), id)
	if err != nil {
		return nil, err
	}
	list, err := scanStatuses(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, repository.ErrNotFound
	}
	return list[0], nil
}

func (r *PostingStatusRepository) List(ctx context.Context, requesterID, productID string, limit, offset int) ([]*model.PostingStatus, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM posting_statuses
		WHERE requester_id = $1 AND ($2 = '' OR product_id = $2)`), requesterID, productID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []*model.PostingStatus{}, 0, nil
	}

	rows, err := r.db.QueryContext(ctx, r.q(`WITH page AS (
			SELECT id, product_id, requester_id, retry_of, completed, created_at, completed_at
			FROM posting_statuses
			WHERE requester_id = $1 AND ($2 = '' OR product_id = $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3 OFFSET $4
		)
		SELECT `+statusColumns+`
		FROM page s
		JOIN posting_attempts a ON a.status_id = s.id
		ORDER BY s.created_at DESC, s.id DESC, a.position`), requesterID, productID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	list, err := scanStatuses(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *PostingStatusRepository) UpdateAttempt(ctx context.Context, statusID string, a *model.PlatformAttempt) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	kind, msg := resultFailure(a.Result)
	lid, lurl := resultListing(a.Result)
	res, err := r.db.ExecContext(ctx, r.q(`UPDATE posting_attempts SET
			status = $1, attempts = $2, last_attempt_at = $3, listing_id = $4, listing_url = $5,
			error_kind = $6, error_message = $7, updated_at = $8
		WHERE status_id = $9 AND platform = $10 AND status NOT IN ('completed', 'failed')`),
		string(a.Status), a.Attempts, utcPtr(a.LastAttemptAt), lid, lurl, kind, msg, a.UpdatedAt.UTC(), statusID, a.Platform)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, r.q(`SELECT status FROM posting_attempts WHERE status_id = $1 AND platform = $2`), statusID, a.Platform).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s is %s: %w", statusID, a.Platform, current, repository.ErrAttemptFinal)
}

func (r *PostingStatusRepository) MarkCompleted(ctx context.Context, statusID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.q(`UPDATE posting_statuses SET completed = $1, completed_at = $2 WHERE id = $3 AND completed = $4`),
		true, at.UTC(), statusID, false)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// StaleIDs returns unfinished operations created before the cutoff whose attempts
// have all been idle since then.
func (r *PostingStatusRepository) StaleIDs(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`SELECT s.id FROM posting_statuses s
		WHERE s.completed = $1 AND s.created_at < $2
		AND NOT EXISTS (
			SELECT 1 FROM posting_attempts a WHERE a.status_id = s.id AND a.updated_at >= $2
		)
		ORDER BY s.created_at`), false, before.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scanStatuses folds joined status/attempt rows into statuses, keeping row order.
func scanStatuses(rows *sql.Rows) ([]*model.PostingStatus, error) {
	defer rows.Close()
	var (
		list  []*model.PostingStatus
		index = map[string]*model.PostingStatus{}
	)
	for rows.Next() {
		var (
			s                                model.PostingStatus
			a                                model.PlatformAttempt
			retryOf                          sql.NullString
			completedAt, lastAttemptAt       sql.NullTime
			listingID, listingURL, kind, msg sql.NullString
			status                           string
		)
		if err := rows.Scan(&s.ID, &s.ProductID, &s.RequesterID, &retryOf, &s.Completed, &s.CreatedAt, &completedAt,
			&a.Platform, &status, &a.Attempts, &lastAttemptAt, &listingID, &listingURL, &kind, &msg, &a.UpdatedAt); err != nil {
			return nil, err
		}
		current, ok := index[s.ID]
		if !ok {
			if retryOf.Valid {
				v := retryOf.String
				s.RetryOf = &v
			}
			if completedAt.Valid {
				t := completedAt.Time
				s.CompletedAt = &t
			}
			current = &s
			index[s.ID] = current
			list = append(list, current)
		}
		a.Status = model.AttemptStatus(status)
		if lastAttemptAt.Valid {
			t := lastAttemptAt.Time
			a.LastAttemptAt = &t
		}
		if listingID.Valid || kind.Valid {
			a.Result = &model.AttemptResult{
				ListingID:  listingID.String,
				ListingURL: listingURL.String,
				ErrorKind:  model.ErrorKind(kind.String),
				Message:    msg.String,
			}
		}
		current.Attempts = append(current.Attempts, a)
	}
	return list, rows.Err()
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func resultFailure(r *model.AttemptResult) (interface{}, interface{}) {
	if r == nil || r.ErrorKind == "" {
		return nil, nil
	}
	return string(r.ErrorKind), r.Message
}

func resultListing(r *model.AttemptResult) (interface{}, interface{}) {
	if r == nil || r.ListingID == "" {
		return nil, nil
	}
	return r.ListingID, r.ListingURL
}

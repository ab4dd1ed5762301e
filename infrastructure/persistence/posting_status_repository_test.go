package persistence

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var joinedColumns = []string{"id", "product_id", "requester_id", "retry_of", "completed", "created_at", "completed_at",
	"platform", "status", "attempts", "last_attempt_at", "listing_id", "listing_url", "error_kind", "error_message", "updated_at"}

func TestPostingStatusRepository_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostingStatusRepository(db, DialectPostgres)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	attempted := created.Add(time.Second)

	mock.ExpectQuery(regexp.QuoteMeta(`JOIN posting_attempts a ON a.status_id = s.id`)).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows(joinedColumns).
			AddRow("op-1", "prod-1", "user-1", nil, false, created, nil,
				"poshmark", "completed", 1, attempted, "pm-1", "https://poshmark.com/listing/pm-1", nil, nil, attempted).
			AddRow("op-1", "prod-1", "user-1", nil, false, created, nil,
				"mercari", "failed", 3, attempted, nil, nil, "NetworkError", "MERCARI Error: Network error. Please check your internet connection.", attempted))

	got, err := repo.Get(context.Background(), "op-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "op-1", got.ID)
	assert.Nil(t, got.RetryOf)
	require.Len(t, got.Attempts, 2)
	assert.Equal(t, model.AttemptCompleted, got.Attempts[0].Status)
	assert.Equal(t, &model.AttemptResult{ListingID: "pm-1", ListingURL: "https://poshmark.com/listing/pm-1"}, got.Attempts[0].Result)
	assert.Equal(t, model.AttemptFailed, got.Attempts[1].Status)
	assert.Equal(t, 3, got.Attempts[1].Attempts)
	assert.Equal(t, model.KindNetwork, got.Attempts[1].Result.ErrorKind)
	assert.Equal(t, attempted, *got.Attempts[1].LastAttemptAt)
}

func TestPostingStatusRepository_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE s.id = $1`)).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(joinedColumns))

	_, err = NewPostingStatusRepository(db, DialectPostgres).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPostingStatusRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	status := &model.PostingStatus{
		ID: "op-1", ProductID: "prod-1", RequesterID: "user-1", CreatedAt: created,
		Attempts: []model.PlatformAttempt{
			{Platform: "ebay", Status: model.AttemptPending},
			{Platform: "mercari", Status: model.AttemptPending},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO posting_statuses`)).
		WithArgs("op-1", "prod-1", "user-1", nil, false, created, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO posting_attempts`)).
		WithArgs("op-1", "ebay", 0, "pending", 0, nil, nil, nil, nil, nil, created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO posting_attempts`)).
		WithArgs("op-1", "mercari", 1, "pending", 0, nil, nil, nil, nil, nil, created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewPostingStatusRepository(db, DialectPostgres).Create(context.Background(), status))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostingStatusRepository_CreateRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO posting_statuses`)).WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err = NewPostingStatusRepository(db, DialectPostgres).Create(context.Background(), &model.PostingStatus{ID: "op-1"})
	assert.EqualError(t, err, "duplicate key")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostingStatusRepository_UpdateAttemptRefusesTerminal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta(`AND status NOT IN ('completed', 'failed')`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM posting_attempts WHERE status_id = $1 AND platform = $2`)).
		WithArgs("op-1", "ebay").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

	err = NewPostingStatusRepository(db, DialectPostgres).UpdateAttempt(context.Background(), "op-1", &model.PlatformAttempt{
		Platform: "ebay", Status: model.AttemptFailed, Attempts: 2, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, repository.ErrAttemptFinal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostingStatusRepository_UpdateAttempt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE posting_attempts SET`)).
		WithArgs("completed", 1, now, "m-1", "https://mercari.com/item/m-1", nil, nil, now, "op-1", "mercari").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewPostingStatusRepository(db, DialectPostgres).UpdateAttempt(context.Background(), "op-1", &model.PlatformAttempt{
		Platform: "mercari", Status: model.AttemptCompleted, Attempts: 1, LastAttemptAt: &now, UpdatedAt: now,
		Result: &model.AttemptResult{ListingID: "m-1", ListingURL: "https://mercari.com/item/m-1"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostingStatusRepository_MarkCompletedOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now().UTC()
	q := regexp.QuoteMeta(`UPDATE posting_statuses SET completed = $1, completed_at = $2 WHERE id = $3 AND completed = $4`)
	mock.ExpectExec(q).WithArgs(true, at, "op-1", false).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(true, at, "op-1", false).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPostingStatusRepository(db, DialectPostgres)
	first, err := repo.MarkCompleted(context.Background(), "op-1", at)
	require.NoError(t, err)
	second, err := repo.MarkCompleted(context.Background(), "op-1", at)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostingStatusRepository_ListEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM posting_statuses`)).
		WithArgs("user-1", "").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	list, total, err := NewPostingStatusRepository(db, DialectPostgres).List(context.Background(), "user-1", "", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, list)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $12", rebind(DialectPostgres, "a = $1 AND b = $12"))
	assert.Equal(t, "a = ?1 AND b = ?12 OR c = ?1", rebind(DialectSQLite, "a = $1 AND b = $12 OR c = $1"))
}

package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := NewSQLiteDB(":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(db, DialectSQLite))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func pendingStatus(id, requester, product string, created time.Time, platforms ...string) *model.PostingStatus {
	s := &model.PostingStatus{ID: id, ProductID: product, RequesterID: requester, CreatedAt: created}
	for _, p := range platforms {
		s.Attempts = append(s.Attempts, model.PlatformAttempt{Platform: p, Status: model.AttemptPending, UpdatedAt: created})
	}
	return s
}

func TestSQLite_PostingStatusLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewPostingStatusRepository(newSQLite(t), DialectSQLite)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, pendingStatus("op-1", "user-1", "prod-1", created, "poshmark", "mercari", "ebay")))

	got, err := repo.Get(ctx, "op-1")
	require.NoError(t, err)
	require.Len(t, got.Attempts, 3)
	assert.Equal(t, []string{"poshmark", "mercari", "ebay"}, []string{got.Attempts[0].Platform, got.Attempts[1].Platform, got.Attempts[2].Platform})
	assert.False(t, got.Completed)
	assert.True(t, got.CreatedAt.Equal(created))

	at := created.Add(time.Minute)
	require.NoError(t, repo.UpdateAttempt(ctx, "op-1", &model.PlatformAttempt{
		Platform: "poshmark", Status: model.AttemptCompleted, Attempts: 1, LastAttemptAt: &at, UpdatedAt: at,
		Result: &model.AttemptResult{ListingID: "pm-1", ListingURL: "https://poshmark.com/listing/pm-1"},
	}))
	require.NoError(t, repo.UpdateAttempt(ctx, "op-1", &model.PlatformAttempt{
		Platform: "ebay", Status: model.AttemptFailed, Attempts: 0, UpdatedAt: at,
		Result: &model.AttemptResult{ErrorKind: model.KindValidation, Message: "EBAY Error: Invalid request: price is required"},
	}))

	err = repo.UpdateAttempt(ctx, "op-1", &model.PlatformAttempt{Platform: "poshmark", Status: model.AttemptInProgress, Attempts: 2, UpdatedAt: at})
	assert.ErrorIs(t, err, repository.ErrAttemptFinal)
	err = repo.UpdateAttempt(ctx, "op-1", &model.PlatformAttempt{Platform: "etsy", Status: model.AttemptInProgress, UpdatedAt: at})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err = repo.Get(ctx, "op-1")
	require.NoError(t, err)
	posh := got.Attempt("poshmark")
	assert.Equal(t, model.AttemptCompleted, posh.Status)
	assert.Equal(t, 1, posh.Attempts)
	assert.Equal(t, "pm-1", posh.Result.ListingID)
	assert.True(t, posh.LastAttemptAt.Equal(at))
	ebay := got.Attempt("ebay")
	assert.Equal(t, model.KindValidation, ebay.Result.ErrorKind)
	assert.Nil(t, ebay.LastAttemptAt)
	assert.Nil(t, got.Attempt("mercari").Result)

	done := at.Add(time.Minute)
	flipped, err := repo.MarkCompleted(ctx, "op-1", done)
	require.NoError(t, err)
	assert.True(t, flipped)
	flipped, err = repo.MarkCompleted(ctx, "op-1", done.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, flipped)

	got, err = repo.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.True(t, got.Completed)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(done))

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSQLite_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewPostingStatusRepository(newSQLite(t), DialectSQLite)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		product := "prod-a"
		if i%2 == 1 {
			product = "prod-b"
		}
		require.NoError(t, repo.Create(ctx, pendingStatus(fmt.Sprintf("op-%d", i), "user-1", product, base.Add(time.Duration(i)*time.Minute), "ebay", "mercari")))
	}
	require.NoError(t, repo.Create(ctx, pendingStatus("other", "user-2", "prod-a", base, "ebay")))

	page, total, err := repo.List(ctx, "user-1", "", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "op-4", page[0].ID)
	assert.Equal(t, "op-3", page[1].ID)
	assert.Len(t, page[0].Attempts, 2)

	page, total, err = repo.List(ctx, "user-1", "", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 1)
	assert.Equal(t, "op-0", page[0].ID)

	page, total, err = repo.List(ctx, "user-1", "prod-b", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 2)
	assert.Equal(t, "op-3", page[0].ID)
	assert.Equal(t, "op-1", page[1].ID)

	page, total, err = repo.List(ctx, "nobody", "", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, page)
}

func TestSQLite_StaleIDs(t *testing.T) {
	ctx := context.Background()
	repo := NewPostingStatusRepository(newSQLite(t), DialectSQLite)
	old := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cutoff := old.Add(30 * time.Minute)

	require.NoError(t, repo.Create(ctx, pendingStatus("stuck", "u", "p", old, "ebay")))
	require.NoError(t, repo.Create(ctx, pendingStatus("active", "u", "p", old, "ebay")))
	require.NoError(t, repo.Create(ctx, pendingStatus("fresh", "u", "p", cutoff.Add(time.Minute), "ebay")))
	require.NoError(t, repo.Create(ctx, pendingStatus("done", "u", "p", old, "ebay")))

	recent := cutoff.Add(5 * time.Minute)
	require.NoError(t, repo.UpdateAttempt(ctx, "active", &model.PlatformAttempt{Platform: "ebay", Status: model.AttemptInProgress, Attempts: 1, UpdatedAt: recent}))
	_, err := repo.MarkCompleted(ctx, "done", old)
	require.NoError(t, err)

	ids, err := repo.StaleIDs(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"stuck"}, ids)
}

func TestSQLite_Credentials(t *testing.T) {
	ctx := context.Background()
	repo := NewCredentialRepository(newSQLite(t), DialectSQLite)
	exp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := repo.Get(ctx, "user-1", "ebay")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repo.Upsert(ctx, &model.Credential{OwnerID: "user-1", Platform: "ebay", AccessToken: "a1", RefreshToken: "r1", TokenType: "Bearer", ExpiresAt: exp}))
	require.NoError(t, repo.Upsert(ctx, &model.Credential{OwnerID: "user-1", Platform: "ebay", AccessToken: "a2", RefreshToken: "r2", ExpiresAt: exp.Add(time.Hour)}))
	require.NoError(t, repo.Upsert(ctx, &model.Credential{OwnerID: "user-1", Platform: "mercari", AccessToken: "m", RefreshToken: "mr"}))

	c, err := repo.Get(ctx, "user-1", "ebay")
	require.NoError(t, err)
	assert.Equal(t, "a2", c.AccessToken)
	assert.Equal(t, "r2", c.RefreshToken)
	assert.True(t, c.ExpiresAt.Equal(exp.Add(time.Hour)))

	m, err := repo.Get(ctx, "user-1", "mercari")
	require.NoError(t, err)
	assert.True(t, m.ExpiresAt.IsZero())

	platforms, err := repo.ListPlatforms(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ebay", "mercari"}, platforms)
}

func TestSQLite_Products(t *testing.T) {
	ctx := context.Background()
	db := newSQLite(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := db.Exec(`INSERT INTO products (id, owner_id, title, description, price, condition, size, brand, color, category, images, measurements, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"prod-1", "user-1", "Silk blouse", "Barely worn", "42.50", "like_new", "M", "Acme", "Blue", "womens_clothing",
		`["https://img.example.com/1.jpg"]`, `{"waist":"30in"}`, now, now)
	require.NoError(t, err)

	repo := NewProductRepository(db, DialectSQLite)
	p, err := repo.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("42.50")))
	assert.Equal(t, []string{"https://img.example.com/1.jpg"}, p.Images)
	assert.Equal(t, map[string]string{"waist": "30in"}, p.Measurements)

	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProductDocument_ToModel(t *testing.T) {
	doc := productDocument{ID: "prod-1", OwnerID: "user-1", Price: 19.99, Images: []string{"a"}}
	p := doc.toModel()
	assert.Equal(t, "prod-1", p.ID)
	assert.Equal(t, "19.99", p.Price.StringFixed(2))
	assert.Equal(t, []string{"a"}, p.Images)
}

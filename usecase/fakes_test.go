package usecase

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"

	"github.com/stretchr/testify/mock"
)

type memStatuses struct {
	mu     sync.Mutex
	items  map[string]*model.PostingStatus
	order  []string
	writes []model.PlatformAttempt
}

func newMemStatuses() *memStatuses {
	return &memStatuses{items: map[string]*model.PostingStatus{}}
}

func clone(s *model.PostingStatus) *model.PostingStatus {
	out := *s
	out.Attempts = make([]model.PlatformAttempt, len(s.Attempts))
	for i, a := range s.Attempts {
		if a.Result != nil {
			r := *a.Result
			a.Result = &r
		}
		out.Attempts[i] = a
	}
	return &out
}

func (m *memStatuses) Create(_ context.Context, status *model.PostingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[status.ID] = clone(status)
	m.order = append(m.order, status.ID)
	return nil
}

func (m *memStatuses) Get(_ context.Context, id string) (*model.PostingStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(s), nil
}

func (m *memStatuses) List(_ context.Context, requesterID, productID string, limit, offset int) ([]*model.PostingStatus, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*model.PostingStatus
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.items[m.order[i]]
		if s.RequesterID == requesterID && (productID == "" || s.ProductID == productID) {
			all = append(all, clone(s))
		}
	}
	total := len(all)
	if offset >= total {
		return []*model.PostingStatus{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memStatuses) UpdateAttempt(_ context.Context, statusID string, attempt *model.PlatformAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[statusID]
	if !ok {
		return repository.ErrNotFound
	}
	cur := s.Attempt(attempt.Platform)
	if cur == nil {
		return repository.ErrNotFound
	}
	if cur.Status.Terminal() {
		return repository.ErrAttemptFinal
	}
	a := *attempt
	if a.Result != nil {
		r := *a.Result
		a.Result = &r
	}
	*cur = a
	m.writes = append(m.writes, a)
	return nil
}

func (m *memStatuses) attemptWrites() []model.PlatformAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.PlatformAttempt(nil), m.writes...)
}

func (m *memStatuses) MarkCompleted(_ context.Context, statusID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[statusID]
	if !ok || s.Completed {
		return false, nil
	}
	s.Completed = true
	s.CompletedAt = &at
	return true, nil
}

func (m *memStatuses) StaleIDs(_ context.Context, before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, id := range m.order {
		s := m.items[id]
		if s.Completed || !s.CreatedAt.Before(before) {
			continue
		}
		idle := true
		for _, a := range s.Attempts {
			if !a.UpdatedAt.Before(before) {
				idle = false
			}
		}
		if idle {
			out = append(out, id)
		}
	}
	return out, nil
}

type memProducts struct {
	mu    sync.Mutex
	items map[string]model.Product
}

func (m *memProducts) put(p model.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[p.ID] = p
}

func (m *memProducts) Get(_ context.Context, id string) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

type memCache struct {
	mu    sync.Mutex
	items map[string]*model.PostingStatus
}

func (c *memCache) Get(_ context.Context, id string) (*model.PostingStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[id], nil
}

func (c *memCache) Set(_ context.Context, status *model.PostingStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[status.ID] = clone(status)
	return nil
}

// fakeMarketplace answers CreateListing from respond, keyed by the 1-based call number.
type fakeMarketplace struct {
	name        string
	idempotent  bool
	validateErr error
	respond     func(call int) (model.ListingResult, error)

	creates atomic.Int32
	updates atomic.Int32

	mu      sync.Mutex
	deleted []string
	titles  []string
	authErr int
}

func (f *fakeMarketplace) Name() string                           { return f.name }
func (f *fakeMarketplace) Idempotent() bool                       { return f.idempotent }
func (f *fakeMarketplace) ErrorCodes() map[string]model.ErrorKind { return nil }
func (f *fakeMarketplace) Validate(model.Product) error           { return f.validateErr }

func (f *fakeMarketplace) FormatImages(_ context.Context, images []string) ([]model.ListingImage, error) {
	out := make([]model.ListingImage, len(images))
	for i, u := range images {
		out[i] = model.ListingImage{URL: u, Position: i + 1}
	}
	return out, nil
}

func (f *fakeMarketplace) CreateListing(_ context.Context, draft model.ListingDraft, _ string) (model.ListingResult, error) {
	n := int(f.creates.Add(1))
	f.mu.Lock()
	f.titles = append(f.titles, draft.Product.Title)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(n)
	}
	return model.ListingResult{ListingID: f.name + "-1", ListingURL: "https://" + f.name + ".example/1"}, nil
}

func (f *fakeMarketplace) UpdateListing(_ context.Context, listingID string, draft model.ListingDraft, _ string) (model.ListingResult, error) {
	f.updates.Add(1)
	return model.ListingResult{ListingID: listingID, ListingURL: "https://" + f.name + ".example/" + listingID + "?t=" + draft.Product.Title}, nil
}

func (f *fakeMarketplace) DeleteListing(_ context.Context, listingID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authErr > 0 {
		f.authErr--
		return &model.ResponseError{Platform: f.name, StatusCode: 401}
	}
	f.deleted = append(f.deleted, listingID)
	return nil
}

type fakeLimiter struct {
	mu       sync.Mutex
	admitted map[string]int
	reject   map[string]int
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{admitted: map[string]int{}, reject: map[string]int{}}
}

func (l *fakeLimiter) Admit(ctx context.Context, platform string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reject[platform] > 0 {
		l.reject[platform]--
		f := model.NewFailure(model.KindRateLimit, platform, "", nil)
		f.RetryDelay = time.Hour
		return f
	}
	l.admitted[platform]++
	return ctx.Err()
}

func (l *fakeLimiter) Release(string) {}

func (l *fakeLimiter) Remaining(platform string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return 10 - l.admitted[platform]
}

func (l *fakeLimiter) ResetAt(string) time.Time { return time.Time{} }

func (l *fakeLimiter) count(platform string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.admitted[platform]
}

type MockTokens struct {
	mock.Mock
}

func (m *MockTokens) AccessToken(ctx context.Context, ownerID, platform string) (string, error) {
	args := m.Called(ctx, ownerID, platform)
	return args.String(0), args.Error(1)
}

func (m *MockTokens) ForceRefresh(ctx context.Context, ownerID, platform string) (string, error) {
	args := m.Called(ctx, ownerID, platform)
	return args.String(0), args.Error(1)
}

func (m *MockTokens) Connected(ctx context.Context, ownerID string) ([]string, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	args := m.Called(ctx, routingKey, payload)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	return m.Called().Error(0)
}

type recorder struct {
	mu     sync.Mutex
	events []model.CrossPostEvent
}

func (r *recorder) Broadcast(evt model.CrossPostEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	sort.Strings(out)
	return out
}

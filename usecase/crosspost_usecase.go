package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"crosspost/domain/dto"
	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 50
)

var (
	ErrInvalidRequest   = errors.New("invalid cross-post request")
	ErrUnknownPlatform  = errors.New("unknown platform")
	ErrForbidden        = errors.New("operation belongs to another user")
	ErrProductNotFound  = errors.New("product not found")
	ErrNothingToRetry   = errors.New("no failed platforms to retry")
	ErrAlreadyCompleted = errors.New("cross-post already completed")
	ErrNoListing        = errors.New("platform has no published listing")
)

// RateLimiter admits marketplace calls within each platform's budget.
type RateLimiter interface {
	Admit(ctx context.Context, platform string) error
	Release(platform string)
	Remaining(platform string) int
	ResetAt(platform string) time.Time
}

// TokenProvider hands out valid access tokens per account and platform.
type TokenProvider interface {
	AccessToken(ctx context.Context, ownerID, platform string) (string, error)
	ForceRefresh(ctx context.Context, ownerID, platform string) (string, error)
	Connected(ctx context.Context, ownerID string) ([]string, error)
}

// Broadcaster pushes events to live subscribers.
type Broadcaster interface {
	Broadcast(evt model.CrossPostEvent)
}

type ICrossPostUsecase interface {
	Start(ctx context.Context, req model.CrossPostRequest) (string, error)
	Status(ctx context.Context, requesterID, statusID string) (*model.PostingStatus, error)
	History(ctx context.Context, requesterID, productID string, page, pageSize int) (*dto.HistoryResponse, error)
	Retry(ctx context.Context, requesterID, statusID string) (string, error)
	Cancel(ctx context.Context, requesterID, statusID string) error
	Reconcile(ctx context.Context, idleFor time.Duration) (int, error)
	UpdateListing(ctx context.Context, requesterID, statusID, platform string) (model.ListingResult, error)
	DeleteListing(ctx context.Context, requesterID, statusID, platform string) error
	Marketplaces(ctx context.Context, ownerID string) ([]dto.MarketplaceInfo, error)
	Shutdown(ctx context.Context) error
}

type CrossPostOptions struct {
	MaxAttempts  int
	CallTimeout  time.Duration
	StoreTimeout time.Duration
	Delays       RetryDelays
	// NoRetryUpstreamForNonIdempotent makes a 5xx final on marketplaces without idempotent creates.
	NoRetryUpstreamForNonIdempotent bool
}

func DefaultCrossPostOptions() CrossPostOptions {
	return CrossPostOptions{
		MaxAttempts:  3,
		CallTimeout:  30 * time.Second,
		StoreTimeout: 10 * time.Second,
		Delays:       DefaultRetryDelays(),
	}
}

// operation is a cross-post running in this process.
type operation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type CrossPostUsecase struct {
	statuses   repository.IPostingStatus
	products   repository.IProduct
	adapters   map[string]repository.IMarketplace
	limiter    RateLimiter
	tokens     TokenProvider
	classifier *ErrorClassifier
	opts       CrossPostOptions

	cache       repository.IStatusCache
	publisher   repository.IEventPublisher
	broadcaster Broadcaster

	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	running map[string]*operation
	wg      sync.WaitGroup
}

func NewCrossPostUsecase(
	statuses repository.IPostingStatus,
	products repository.IProduct,
	adapters []repository.IMarketplace,
	limiter RateLimiter,
	tokens TokenProvider,
	opts CrossPostOptions,
) *CrossPostUsecase {
	byName := make(map[string]repository.IMarketplace, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	classifier := NewErrorClassifier(opts.Delays)
	if opts.NoRetryUpstreamForNonIdempotent {
		classifier = classifier.WithoutUpstreamRetryForNonIdempotent()
	}
	return &CrossPostUsecase{
		statuses:   statuses,
		products:   products,
		adapters:   byName,
		limiter:    limiter,
		tokens:     tokens,
		classifier: classifier,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		running:    make(map[string]*operation),
	}
}

func (u *CrossPostUsecase) WithCache(cache repository.IStatusCache) *CrossPostUsecase {
	u.cache = cache
	return u
}

func (u *CrossPostUsecase) WithPublisher(p repository.IEventPublisher) *CrossPostUsecase {
	u.publisher = p
	return u
}

func (u *CrossPostUsecase) WithBroadcaster(b Broadcaster) *CrossPostUsecase {
	u.broadcaster = b
	return u
}

// Start validates the request, persists a pending operation and posts to every
// platform in the background. It returns as soon as the operation is stored.
func (u *CrossPostUsecase) Start(ctx context.Context, req model.CrossPostRequest) (string, error) {
	if req.ProductID == "" || req.RequesterID == "" {
		return "", fmt.Errorf("%w: product and requester are required", ErrInvalidRequest)
	}
	platforms, err := u.normalize(req.Platforms)
	if err != nil {
		return "", err
	}
	product, err := u.product(ctx, req.RequesterID, req.ProductID)
	if err != nil {
		return "", err
	}
	return u.launch(ctx, product, req.RequesterID, platforms, nil)
}

func (u *CrossPostUsecase) normalize(platforms []string) ([]string, error) {
	if len(platforms) == 0 {
		return nil, fmt.Errorf("%w: at least one platform is required", ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(platforms))
	out := make([]string, 0, len(platforms))
	for _, p := range platforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if _, ok := u.adapters[p]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, p)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func (u *CrossPostUsecase) product(ctx context.Context, requesterID, productID string) (*model.Product, error) {
	product, err := u.products.Get(ctx, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	if product.OwnerID != requesterID {
		return nil, ErrForbidden
	}
	return product, nil
}

func (u *CrossPostUsecase) launch(ctx context.Context, product *model.Product, requesterID string, platforms []string, retryOf *string) (string, error) {
	now := u.now()
	status := &model.PostingStatus{
		ID:          u.newID(),
		ProductID:   product.ID,
		RequesterID: requesterID,
		RetryOf:     retryOf,
		CreatedAt:   now,
	}
	for _, p := range platforms {
		status.Attempts = append(status.Attempts, model.PlatformAttempt{Platform: p, Status: model.AttemptPending, UpdatedAt: now})
	}
	if err := u.statuses.Create(ctx, status); err != nil {
		return "", err
	}

	opCtx, cancel := context.WithCancel(context.Background())
	op := &operation{cancel: cancel, done: make(chan struct{})}
	u.mu.Lock()
	u.running[status.ID] = op
	u.mu.Unlock()

	logger.GetLogger().WithField("status_id", status.ID).WithField("product_id", product.ID).WithField("platforms", platforms).Info("Cross-post started")

	var tasks sync.WaitGroup
	for _, p := range platforms {
		tasks.Add(1)
		u.wg.Add(1)
		go func(platform string) {
			defer u.wg.Done()
			defer tasks.Done()
			u.run(opCtx, status, product, platform)
		}(p)
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		tasks.Wait()
		u.mu.Lock()
		delete(u.running, status.ID)
		u.mu.Unlock()
		cancel()
		u.finalize(status.ID)
		close(op.done)
	}()
	return status.ID, nil
}

// run owns one platform attempt until it is terminal.
func (u *CrossPostUsecase) run(ctx context.Context, status *model.PostingStatus, product *model.Product, platform string) {
	adapter := u.adapters[platform]
	attempt := model.PlatformAttempt{Platform: platform, Status: model.AttemptPending}
	log := logger.GetLogger().WithField("status_id", status.ID).WithField("platform", platform)

	if err := adapter.Validate(*product); err != nil {
		u.fail(status, &attempt, u.classifier.Classify(adapter, err))
		return
	}

	refreshed := false
	for {
		if ctx.Err() != nil {
			u.fail(status, &attempt, model.NewFailure(model.KindCancelled, platform, "", ctx.Err()))
			return
		}

		started := u.now()
		attempt.Status = model.AttemptInProgress
		attempt.Attempts++
		attempt.LastAttemptAt = &started
		attempt.Result = nil
		u.save(status, &attempt)

		res, err := u.createListing(ctx, adapter, status.RequesterID, product)
		if err == nil {
			attempt.Status = model.AttemptCompleted
			attempt.Result = &model.AttemptResult{ListingID: res.ListingID, ListingURL: res.ListingURL}
			u.save(status, &attempt)
			log.WithField("listing_id", res.ListingID).WithField("attempts", attempt.Attempts).Info("Listing created")
			return
		}

		f := u.classifier.Classify(adapter, err)
		log.WithField("error", err).WithField("kind", f.Kind).WithField("attempts", attempt.Attempts).Warn("Listing attempt failed")

		switch {
		case f.Kind == model.KindAuth && !refreshed && !errors.Is(err, model.ErrTokenUnavailable) && attempt.Attempts < u.opts.MaxAttempts:
			refreshed = true
			if _, rerr := u.tokens.ForceRefresh(ctx, status.RequesterID, platform); rerr != nil {
				u.fail(status, &attempt, u.classifier.Classify(adapter, rerr))
				return
			}
			u.requeue(status, &attempt)
		case f.Retryable && attempt.Attempts < u.opts.MaxAttempts:
			u.requeue(status, &attempt)
			if !u.sleep(ctx, f.RetryDelay) {
				u.fail(status, &attempt, model.NewFailure(model.KindCancelled, platform, "", ctx.Err()))
				return
			}
		default:
			u.fail(status, &attempt, f)
			return
		}
	}
}

// createListing makes one admitted, time-bounded listing call. Waiting for the
// limiter honours cancellation; the call itself runs to completion.
func (u *CrossPostUsecase) createListing(ctx context.Context, adapter repository.IMarketplace, ownerID string, product *model.Product) (model.ListingResult, error) {
	var res model.ListingResult
	err := u.call(ctx, adapter.Name(), func(callCtx context.Context) error {
		images, err := adapter.FormatImages(callCtx, product.Images)
		if err != nil {
			return err
		}
		token, err := u.tokens.AccessToken(callCtx, ownerID, adapter.Name())
		if err != nil {
			return err
		}
		res, err = adapter.CreateListing(callCtx, model.ListingDraft{Product: *product, Images: images}, token)
		return err
	})
	return res, err
}

func (u *CrossPostUsecase) call(ctx context.Context, platform string, fn func(context.Context) error) error {
	if err := u.limiter.Admit(ctx, platform); err != nil {
		return err
	}
	defer u.limiter.Release(platform)
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.opts.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

func (u *CrossPostUsecase) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// requeue parks the attempt until its next try. Result stays empty until the attempt is terminal.
func (u *CrossPostUsecase) requeue(status *model.PostingStatus, attempt *model.PlatformAttempt) {
	attempt.Status = model.AttemptPending
	attempt.Result = nil
	u.save(status, attempt)
}

func (u *CrossPostUsecase) fail(status *model.PostingStatus, attempt *model.PlatformAttempt, f *model.Failure) {
	attempt.Status = model.AttemptFailed
	attempt.Result = &model.AttemptResult{ErrorKind: f.Kind, Message: f.Message}
	u.save(status, attempt)
}

// save writes the attempt row and emits its transition.
func (u *CrossPostUsecase) save(status *model.PostingStatus, attempt *model.PlatformAttempt) bool {
	attempt.UpdatedAt = u.now()
	ctx, cancel := context.WithTimeout(context.Background(), u.opts.StoreTimeout)
	defer cancel()
	if err := u.statuses.UpdateAttempt(ctx, status.ID, attempt); err != nil {
		logger.GetLogger().WithField("status_id", status.ID).WithField("platform", attempt.Platform).WithField("error", err).Error("Failed to store attempt")
		return false
	}
	u.emit(model.AttemptEvent(status, *attempt, attempt.UpdatedAt))
	return true
}

func (u *CrossPostUsecase) emit(evt model.CrossPostEvent) {
	if u.broadcaster != nil {
		u.broadcaster.Broadcast(evt)
	}
	if u.publisher == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Failed to encode event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), u.opts.StoreTimeout)
	defer cancel()
	if err := u.publisher.Publish(ctx, evt.Type, payload); err != nil {
		logger.GetLogger().WithField("event_type", evt.Type).WithField("error", err).Warn("Failed to publish event")
	}
}

// finalize flips completed once every attempt is terminal.
func (u *CrossPostUsecase) finalize(statusID string) {
	ctx, cancel := context.WithTimeout(context.Background(), u.opts.StoreTimeout)
	defer cancel()
	log := logger.GetLogger().WithField("status_id", statusID)

	status, err := u.statuses.Get(ctx, statusID)
	if err != nil {
		log.WithField("error", err).Error("Failed to load operation for completion")
		return
	}
	if !status.AllTerminal() {
		log.Warn("Operation has unfinished attempts; leaving it to reconciliation")
		return
	}
	at := u.now()
	flipped, err := u.statuses.MarkCompleted(ctx, statusID, at)
	if err != nil {
		log.WithField("error", err).Error("Failed to mark operation completed")
		return
	}
	if !flipped {
		return
	}
	status.Completed = true
	status.CompletedAt = &at
	if u.cache != nil {
		if err := u.cache.Set(ctx, status); err != nil {
			log.WithField("error", err).Warn("Failed to cache completed operation")
		}
	}
	log.WithField("failed", status.FailedPlatforms()).Info("Cross-post completed")
	u.emit(model.CompletedEvent(status, at))
}

// owned loads statusID and checks it belongs to requesterID.
func (u *CrossPostUsecase) owned(ctx context.Context, requesterID, statusID string) (*model.PostingStatus, error) {
	status, err := u.statuses.Get(ctx, statusID)
	if err != nil {
		return nil, err
	}
	if status.RequesterID != requesterID {
		return nil, ErrForbidden
	}
	return status, nil
}

func (u *CrossPostUsecase) Status(ctx context.Context, requesterID, statusID string) (*model.PostingStatus, error) {
	if u.cache != nil {
		cached, err := u.cache.Get(ctx, statusID)
		if err != nil {
			logger.GetLogger().WithField("status_id", statusID).WithField("error", err).Warn("Status cache read failed")
		}
		if cached != nil {
			if cached.RequesterID != requesterID {
				return nil, ErrForbidden
			}
			return cached, nil
		}
	}
	status, err := u.owned(ctx, requesterID, statusID)
	if err != nil {
		return nil, err
	}
	if status.Completed && u.cache != nil {
		if err := u.cache.Set(ctx, status); err != nil {
			logger.GetLogger().WithField("status_id", statusID).WithField("error", err).Warn("Failed to cache completed operation")
		}
	}
	return status, nil
}

func (u *CrossPostUsecase) History(ctx context.Context, requesterID, productID string, page, pageSize int) (*dto.HistoryResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	items, total, err := u.statuses.List(ctx, requesterID, productID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*model.PostingStatus{}
	}
	return &dto.HistoryResponse{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// Retry starts a new operation for the platforms that failed in statusID, using
// the product as it is now.
func (u *CrossPostUsecase) Retry(ctx context.Context, requesterID, statusID string) (string, error) {
	status, err := u.owned(ctx, requesterID, statusID)
	if err != nil {
		return "", err
	}
	failed := status.FailedPlatforms()
	if len(failed) == 0 {
		return "", ErrNothingToRetry
	}
	platforms := failed[:0:0]
	for _, p := range failed {
		if _, ok := u.adapters[p]; ok {
			platforms = append(platforms, p)
		}
	}
	if len(platforms) == 0 {
		return "", ErrNothingToRetry
	}
	product, err := u.product(ctx, requesterID, status.ProductID)
	if err != nil {
		return "", err
	}
	return u.launch(ctx, product, requesterID, platforms, &status.ID)
}

// Cancel stops further attempts. Calls already sent finish and are recorded.
func (u *CrossPostUsecase) Cancel(ctx context.Context, requesterID, statusID string) error {
	status, err := u.owned(ctx, requesterID, statusID)
	if err != nil {
		return err
	}
	if status.Completed {
		return ErrAlreadyCompleted
	}
	u.mu.Lock()
	op := u.running[statusID]
	u.mu.Unlock()
	if op != nil {
		op.cancel()
		logger.GetLogger().WithField("status_id", statusID).Info("Cross-post cancellation requested")
		return nil
	}
	u.abandon(status, model.KindCancelled)
	return nil
}

// Reconcile fails the unfinished attempts of operations that have been idle for
// idleFor and are not running in this process, then completes them.
func (u *CrossPostUsecase) Reconcile(ctx context.Context, idleFor time.Duration) (int, error) {
	ids, err := u.statuses.StaleIDs(ctx, u.now().Add(-idleFor))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if u.isRunning(id) {
			continue
		}
		status, err := u.statuses.Get(ctx, id)
		if err != nil {
			logger.GetLogger().WithField("status_id", id).WithField("error", err).Warn("Failed to load stale operation")
			continue
		}
		u.abandon(status, model.KindUnknown)
		n++
	}
	if n > 0 {
		logger.GetLogger().WithField("count", n).Info("Reconciled interrupted cross-posts")
	}
	return n, nil
}

func (u *CrossPostUsecase) isRunning(statusID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.running[statusID]
	return ok
}

// abandon fails every non-terminal attempt with kind and finalizes the operation.
func (u *CrossPostUsecase) abandon(status *model.PostingStatus, kind model.ErrorKind) {
	for i := range status.Attempts {
		a := status.Attempts[i]
		if a.Status.Terminal() {
			continue
		}
		u.fail(status, &a, model.NewFailure(kind, a.Platform, "", nil))
	}
	u.finalize(status.ID)
}

func (u *CrossPostUsecase) listing(ctx context.Context, requesterID, statusID, platform string) (*model.PostingStatus, string, repository.IMarketplace, error) {
	status, err := u.owned(ctx, requesterID, statusID)
	if err != nil {
		return nil, "", nil, err
	}
	adapter, ok := u.adapters[platform]
	if !ok {
		return nil, "", nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	a := status.Attempt(platform)
	if a == nil || a.Status != model.AttemptCompleted || a.Result == nil || a.Result.ListingID == "" {
		return nil, "", nil, ErrNoListing
	}
	return status, a.Result.ListingID, adapter, nil
}

// authorized runs fn with a token, refreshing once if the marketplace rejects it.
func (u *CrossPostUsecase) authorized(ctx context.Context, adapter repository.IMarketplace, ownerID string, fn func(context.Context, string) error) error {
	attempt := func(refresh bool) error {
		return u.call(ctx, adapter.Name(), func(callCtx context.Context) error {
			get := u.tokens.AccessToken
			if refresh {
				get = u.tokens.ForceRefresh
			}
			token, err := get(callCtx, ownerID, adapter.Name())
			if err != nil {
				return err
			}
			return fn(callCtx, token)
		})
	}
	err := attempt(false)
	if err == nil {
		return nil
	}
	if f := u.classifier.Classify(adapter, err); f.Kind == model.KindAuth && !errors.Is(err, model.ErrTokenUnavailable) {
		err = attempt(true)
	}
	if err != nil {
		return u.classifier.Classify(adapter, err)
	}
	return nil
}

// UpdateListing pushes the product's current data to an existing listing.
func (u *CrossPostUsecase) UpdateListing(ctx context.Context, requesterID, statusID, platform string) (model.ListingResult, error) {
	status, listingID, adapter, err := u.listing(ctx, requesterID, statusID, platform)
	if err != nil {
		return model.ListingResult{}, err
	}
	product, err := u.product(ctx, requesterID, status.ProductID)
	if err != nil {
		return model.ListingResult{}, err
	}
	if err := adapter.Validate(*product); err != nil {
		return model.ListingResult{}, u.classifier.Classify(adapter, err)
	}
	var res model.ListingResult
	err = u.authorized(ctx, adapter, requesterID, func(callCtx context.Context, token string) error {
		images, err := adapter.FormatImages(callCtx, product.Images)
		if err != nil {
			return err
		}
		res, err = adapter.UpdateListing(callCtx, listingID, model.ListingDraft{Product: *product, Images: images}, token)
		return err
	})
	if err != nil {
		return model.ListingResult{}, err
	}
	logger.GetLogger().WithField("status_id", statusID).WithField("platform", platform).WithField("listing_id", res.ListingID).Info("Listing updated")
	return res, nil
}

func (u *CrossPostUsecase) DeleteListing(ctx context.Context, requesterID, statusID, platform string) error {
	_, listingID, adapter, err := u.listing(ctx, requesterID, statusID, platform)
	if err != nil {
		return err
	}
	err = u.authorized(ctx, adapter, requesterID, func(callCtx context.Context, token string) error {
		return adapter.DeleteListing(callCtx, listingID, token)
	})
	if err != nil {
		return err
	}
	logger.GetLogger().WithField("status_id", statusID).WithField("platform", platform).WithField("listing_id", listingID).Info("Listing deleted")
	return nil
}

// Marketplaces lists every registered platform with the owner's connection state and remaining budget.
func (u *CrossPostUsecase) Marketplaces(ctx context.Context, ownerID string) ([]dto.MarketplaceInfo, error) {
	connected, err := u.tokens.Connected(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	isConnected := make(map[string]bool, len(connected))
	for _, p := range connected {
		isConnected[p] = true
	}
	names := make([]string, 0, len(u.adapters))
	for name := range u.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]dto.MarketplaceInfo, 0, len(names))
	for _, name := range names {
		out = append(out, dto.MarketplaceInfo{
			Platform:   name,
			Connected:  isConnected[name],
			Remaining:  u.limiter.Remaining(name),
			ResetAt:    u.limiter.ResetAt(name),
			Idempotent: u.adapters[name].Idempotent(),
		})
	}
	return out, nil
}

// Shutdown waits for running operations to finish or for ctx to expire. Operations
// still running afterwards are picked up by Reconcile on a later start.
func (u *CrossPostUsecase) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ ICrossPostUsecase = (*CrossPostUsecase)(nil)

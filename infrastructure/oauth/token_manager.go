package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/logger"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

var ErrUnknownProvider = errors.New("oauth: no provider configured for platform")

const (
	DefaultRefreshSkew    = 5 * time.Minute
	DefaultRefreshTimeout = 10 * time.Second
)

// TokenManager hands out valid marketplace access tokens, refreshing them when
// they are about to expire. Concurrent refreshes of one credential collapse into
// a single token endpoint call.
type TokenManager struct {
	providers map[string]*oauth2.Config
	repo      repository.ICredential

	mu    sync.RWMutex
	cache map[string]*model.Credential

	group          singleflight.Group
	refreshTimeout time.Duration
	skew           time.Duration
	httpClient     *http.Client
	now            func() time.Time
}

type Option func(*TokenManager)

func WithHTTPClient(c *http.Client) Option {
	return func(m *TokenManager) { m.httpClient = c }
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(m *TokenManager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

func NewTokenManager(providers map[string]*oauth2.Config, repo repository.ICredential, opts ...Option) *TokenManager {
	m := &TokenManager{
		providers:      providers,
		repo:           repo,
		cache:          make(map[string]*model.Credential),
		refreshTimeout: DefaultRefreshTimeout,
		skew:           DefaultRefreshSkew,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ProvidersFromConfig builds one oauth2 client per configured marketplace.
// eBay expects client credentials in a basic auth header, the others in the form body.
func ProvidersFromConfig(markets configuration.Marketplaces) map[string]*oauth2.Config {
	out := make(map[string]*oauth2.Config)
	for name, m := range markets.All() {
		style := oauth2.AuthStyleInParams
		if name == "ebay" {
			style = oauth2.AuthStyleInHeader
		}
		out[name] = &oauth2.Config{
			ClientID:     m.ClientID,
			ClientSecret: m.ClientSecret,
			RedirectURL:  m.RedirectURI,
			Scopes:       m.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   m.AuthURL,
				TokenURL:  m.TokenURL,
				AuthStyle: style,
			},
		}
	}
	return out
}

func cacheKey(ownerID, platform string) string { return ownerID + "/" + platform }

func (m *TokenManager) provider(platform string) (*oauth2.Config, error) {
	cfg, ok := m.providers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, platform)
	}
	return cfg, nil
}

func (m *TokenManager) withClient(ctx context.Context) context.Context {
	if m.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	return ctx
}

func (m *TokenManager) cached(key string) *model.Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache[key]
}

func (m *TokenManager) store(key string, cred *model.Credential) {
	m.mu.Lock()
	m.cache[key] = cred
	m.mu.Unlock()
}

// storeIfAbsent keeps a credential another caller cached first, which may be newer.
func (m *TokenManager) storeIfAbsent(key string, cred *model.Credential) *model.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.cache[key]; ok {
		return cur
	}
	m.cache[key] = cred
	return cred
}

// credential returns the cached credential, loading it from the repository on first use.
func (m *TokenManager) credential(ctx context.Context, ownerID, platform string) (*model.Credential, error) {
	key := cacheKey(ownerID, platform)
	if c := m.cached(key); c != nil {
		return c, nil
	}
	c, err := m.repo.Get(ctx, ownerID, platform)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewFailure(model.KindAuth, platform, "account not connected", fmt.Errorf("%w: %w", model.ErrTokenUnavailable, err))
		}
		return nil, fmt.Errorf("load %s credential: %w", platform, err)
	}
	return m.storeIfAbsent(key, c), nil
}

// AccessToken returns a token for the account that stays valid for at least the refresh skew.
func (m *TokenManager) AccessToken(ctx context.Context, ownerID, platform string) (string, error) {
	cred, err := m.credential(ctx, ownerID, platform)
	if err != nil {
		return "", err
	}
	if !cred.Stale(m.now(), m.skew) {
		return cred.AccessToken, nil
	}
	return m.refresh(ctx, ownerID, platform, cred.AccessToken)
}

// ForceRefresh refreshes after the marketplace rejected the current token. If another
// caller already replaced that token, the newer one is returned without a second refresh.
func (m *TokenManager) ForceRefresh(ctx context.Context, ownerID, platform string) (string, error) {
	cred, err := m.credential(ctx, ownerID, platform)
	if err != nil {
		return "", err
	}
	return m.refresh(ctx, ownerID, platform, cred.AccessToken)
}

func (m *TokenManager) refresh(ctx context.Context, ownerID, platform, rejected string) (string, error) {
	cfg, err := m.provider(platform)
	if err != nil {
		return "", model.NewFailure(model.KindAuth, platform, "", fmt.Errorf("%w: %w", model.ErrTokenUnavailable, err))
	}
	key := cacheKey(ownerID, platform)

	v, err, shared := m.group.Do(key, func() (interface{}, error) {
		cur := m.cached(key)
		if cur == nil {
			return nil, fmt.Errorf("no cached %s credential", platform)
		}
		if cur.AccessToken != rejected && !cur.Stale(m.now(), m.skew) {
			return cur.AccessToken, nil
		}
		if cur.RefreshToken == "" {
			return nil, errors.New("credential has no refresh token")
		}

		// The refresh outlives a cancelled caller so waiters sharing it still get a result.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		tok, err := cfg.TokenSource(m.withClient(rctx), &oauth2.Token{RefreshToken: cur.RefreshToken}).Token()
		if err != nil {
			return nil, err
		}

		next := *cur
		next.AccessToken = tok.AccessToken
		if tok.RefreshToken != "" {
			next.RefreshToken = tok.RefreshToken
		}
		if tok.TokenType != "" {
			next.TokenType = tok.TokenType
		}
		next.ExpiresAt = tok.Expiry
		next.UpdatedAt = m.now().UTC()
		if err := m.repo.Upsert(rctx, &next); err != nil {
			logger.GetLogger().WithField("platform", platform).WithField("error", err).Warn("refreshed credential not persisted")
		}
		m.store(key, &next)
		return next.AccessToken, nil
	})
	if err != nil {
		logger.GetLogger().WithField("platform", platform).WithField("shared", shared).WithField("error", err).Warn("token refresh failed")
		return "", model.NewFailure(model.KindAuth, platform, "", fmt.Errorf("%w: %w", model.ErrTokenUnavailable, err))
	}
	return v.(string), nil
}

// AuthURL is where the account owner approves access for platform.
func (m *TokenManager) AuthURL(platform, state string) (string, error) {
	cfg, err := m.provider(platform)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Exchange trades an authorization code for the account's first credential.
func (m *TokenManager) Exchange(ctx context.Context, ownerID, platform, code string) (*model.Credential, error) {
	cfg, err := m.provider(platform)
	if err != nil {
		return nil, err
	}
	ectx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()
	tok, err := cfg.Exchange(m.withClient(ectx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange %s code: %w", platform, err)
	}
	now := m.now().UTC()
	cred := &model.Credential{
		OwnerID:      ownerID,
		Platform:     platform,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
		Scopes:       strings.Join(cfg.Scopes, " "),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.repo.Upsert(ctx, cred); err != nil {
		return nil, fmt.Errorf("store %s credential: %w", platform, err)
	}
	m.store(cacheKey(ownerID, platform), cred)
	return cred, nil
}

// Connected lists the platforms the account has credentials for.
func (m *TokenManager) Connected(ctx context.Context, ownerID string) ([]string, error) {
	return m.repo.ListPlatforms(ctx, ownerID)
}

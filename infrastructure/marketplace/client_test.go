package marketplace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"crosspost/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DecodesMarketplaceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"AUTH_001","message":"token expired"}}`))
	}))
	defer srv.Close()

	c := NewClient("poshmark", srv.URL, srv.Client(), decodePoshmarkError)
	err := c.Do(context.Background(), http.MethodPost, "/listings", "tok", map[string]string{"a": "b"}, nil)

	var re *model.ResponseError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusUnauthorized, re.StatusCode)
	assert.Equal(t, "AUTH_001", re.Code)
	assert.Equal(t, "token expired", re.Message)
}

func TestClient_TransportFailureIsNotAResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := NewClient("mercari", base, nil, decodeMercariError)
	err := c.Do(context.Background(), http.MethodGet, "/listings", "", nil, nil)

	require.Error(t, err)
	var re *model.ResponseError
	assert.False(t, errors.As(err, &re))
	var ue *url.Error
	assert.True(t, errors.As(err, &ue))
}

func TestClient_BreakerOpensAfterRepeatedServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("ebay", srv.URL, srv.Client(), decodeEbayError)
	for i := 0; i < 5; i++ {
		_ = c.Do(context.Background(), http.MethodGet, "/x", "", nil, nil)
	}
	err := c.Do(context.Background(), http.MethodGet, "/x", "", nil, nil)

	var re *model.ResponseError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "circuit_open", re.Code)
	assert.Equal(t, http.StatusServiceUnavailable, re.StatusCode)
	assert.EqualValues(t, 5, atomic.LoadInt32(&hits))
}

func TestClient_ClientErrorsDoNotOpenBreaker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("mercari", srv.URL, srv.Client(), decodeMercariError)
	for i := 0; i < 8; i++ {
		err := c.Do(context.Background(), http.MethodGet, "/x", "", nil, nil)
		var re *model.ResponseError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, "400", re.Code)
	}
	assert.EqualValues(t, 8, atomic.LoadInt32(&hits))
}

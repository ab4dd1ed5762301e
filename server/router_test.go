package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"crosspost/infrastructure/configuration"
	httpHandler "crosspost/interfaces/http"
	"crosspost/usecase"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type okPinger struct{}

func (okPinger) PingContext(context.Context) error { return nil }

type noStream struct{}

func (noStream) Serve(c *gin.Context) { c.Status(http.StatusNoContent) }

func TestInitiateRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	app := configuration.App{SecretKey: "s3cret", AllowedOrigins: []string{"http://localhost:4200"}, RequestsPerSecond: 100, RequestBurst: 100}
	var uc usecase.ICrossPostUsecase = (*usecase.CrossPostUsecase)(nil)
	r := InitiateRouter(app, httpHandler.NewHealthHandler(okPinger{}), httpHandler.NewCrossPostHandler(uc), nil, noStream{})

	routes := map[string]bool{}
	for _, ri := range r.Routes() {
		routes[ri.Method+" "+ri.Path] = true
	}
	for _, want := range []string{
		"POST /healthz",
		"GET /api/marketplaces",
		"POST /api/cross-posts",
		"GET /api/cross-posts",
		"GET /api/cross-posts/stream",
		"GET /api/cross-posts/:statusId",
		"POST /api/cross-posts/:statusId/retry",
		"POST /api/cross-posts/:statusId/cancel",
		"PUT /api/cross-posts/:statusId/listings/:platform",
		"DELETE /api/cross-posts/:statusId/listings/:platform",
	} {
		assert.True(t, routes[want], want)
	}
	assert.False(t, routes["GET /auth/marketplaces/:platform"])

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cross-posts/op-1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

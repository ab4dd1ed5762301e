package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"crosspost/domain/model"
	"crosspost/infrastructure/cache"
	"crosspost/infrastructure/logger"
	"crosspost/infrastructure/oauth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const oauthStateTTL = 10 * time.Minute

// Connector starts and completes a marketplace authorization.
type Connector interface {
	AuthURL(platform, state string) (string, error)
	Exchange(ctx context.Context, ownerID, platform, code string) (*model.Credential, error)
}

type IMarketplaceAuthHandler interface {
	GetAuthURL(ctx *gin.Context)
	Callback(ctx *gin.Context)
}

type marketplaceAuthHandler struct {
	connector Connector
	states    cache.IOAuthState
}

func NewMarketplaceAuthHandler(connector Connector, states cache.IOAuthState) IMarketplaceAuthHandler {
	return &marketplaceAuthHandler{connector: connector, states: states}
}

// GetAuthURL returns the marketplace consent URL for the signed-in account.
func (h *marketplaceAuthHandler) GetAuthURL(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	platform := c.Param("platform")
	state := uuid.NewString()
	authURL, err := h.connector.AuthURL(platform, state)
	if errors.Is(err, oauth.ErrUnknownProvider) {
		c.JSON(http.StatusNotFound, gin.H{"error": "marketplace not configured"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.states.Save(c.Request.Context(), state, cache.OAuthState{OwnerID: userID, Platform: platform}, oauthStateTTL); err != nil {
		logger.GetLogger().WithField("platform", platform).WithField("error", err).Error("Failed to store oauth state")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start authorization"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"auth_url": authURL, "state": state})
}

// Callback exchanges the authorization code for the account recorded with state.
func (h *marketplaceAuthHandler) Callback(c *gin.Context) {
	platform := c.Param("platform")
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}
	st, err := h.states.Consume(c.Request.Context(), c.Query("state"))
	if errors.Is(err, cache.ErrStateNotFound) || (err == nil && st.Platform != platform) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	cred, err := h.connector.Exchange(c.Request.Context(), st.OwnerID, platform, code)
	if err != nil {
		logger.GetLogger().WithField("platform", platform).WithField("error", err).Warn("Marketplace code exchange failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "code exchange failed"})
		return
	}
	logger.GetLogger().WithField("platform", platform).WithField("owner_id", st.OwnerID).Info("Marketplace connected")
	c.JSON(http.StatusOK, gin.H{"platform": platform, "connected": true, "expires_at": cred.ExpiresAt})
}

package server

import (
	"slices"
	"time"

	"crosspost/infrastructure/configuration"
	httpHandler "crosspost/interfaces/http"
	"crosspost/interfaces/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// StatusStream serves live cross-post transitions.
type StatusStream interface {
	Serve(c *gin.Context)
}

func InitiateRouter(
	app configuration.App,
	healthHandler httpHandler.IHealthHandler,
	crossPostHandler httpHandler.ICrossPostHandler,
	authHandler httpHandler.IMarketplaceAuthHandler,
	stream StatusStream,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     app.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		AllowOriginFunc: func(origin string) bool {
			return slices.Contains(app.AllowedOrigins, origin)
		},
		MaxAge: 12 * time.Hour,
	}))

	auth := middleware.Auth(app.SecretKey)
	throttle := middleware.Throttle(app.RequestsPerSecond, app.RequestBurst)

	router.POST("/healthz", healthHandler.Healthz)

	if authHandler != nil {
		router.GET("/auth/marketplaces/:platform", auth, throttle, authHandler.GetAuthURL)
		router.GET("/auth/marketplaces/:platform/callback", throttle, authHandler.Callback)
	}

	api := router.Group("api")
	api.Use(auth, throttle)

	api.GET("/marketplaces", crossPostHandler.Marketplaces)

	crossPosts := api.Group("/cross-posts")
	{
		crossPosts.POST("", crossPostHandler.Start)
		crossPosts.GET("", crossPostHandler.History)
		crossPosts.GET("/stream", stream.Serve)
		crossPosts.GET("/:statusId", crossPostHandler.Status)
		crossPosts.POST("/:statusId/retry", crossPostHandler.Retry)
		crossPosts.POST("/:statusId/cancel", crossPostHandler.Cancel)
		crossPosts.PUT("/:statusId/listings/:platform", crossPostHandler.UpdateListing)
		crossPosts.DELETE("/:statusId/listings/:platform", crossPostHandler.DeleteListing)
	}

	return router
}

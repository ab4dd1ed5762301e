package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crosspost/domain/repository"
	"crosspost/infrastructure/cache"
	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/events"
	"crosspost/infrastructure/logger"
	"crosspost/infrastructure/marketplace"
	"crosspost/infrastructure/oauth"
	"crosspost/infrastructure/persistence"
	"crosspost/infrastructure/ratelimit"
	"crosspost/infrastructure/realtime"
	httpHandler "crosspost/interfaces/http"
	"crosspost/server"
	"crosspost/usecase"

	"golang.org/x/sync/errgroup"
)

const statusCacheTTL = time.Hour

func recoverPanic() {
	if err := recover(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application panic recovered")
	}
}

func main() {
	defer recoverPanic()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	// Load env from files (non-destructive; OS env still has precedence)
	if loaded := configuration.LoadEnvFromFile("config.env", ".env"); len(loaded) > 0 {
		logger.GetLogger().WithField("files", loaded).Info("Loaded env files")
		configuration.Reload()
	}
	app := configuration.C.App
	cp := configuration.C.CrossPost

	db, dialect, err := persistence.Open()
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Database initialization failed")
		os.Exit(1)
	}
	defer db.Close()
	logger.GetLogger().WithField("dialect", dialect).Info("Database connected.")

	var products repository.IProduct = persistence.NewProductRepository(db, dialect)
	mongoConf := configuration.C.Database.Mongo
	if mongoConf.Host != "" {
		mongoClient, err := persistence.NewMongoDb(mongoConf.Host, mongoConf.Port, mongoConf.User, mongoConf.Password, mongoConf.Name)
		if err != nil {
			logger.GetLogger().WithField("error", err).Warn("MongoDB not available - reading products from the SQL store")
		} else {
			defer func() { _ = mongoClient.Disconnect(context.Background()) }()
			products = persistence.NewProductRepositoryMongo(mongoClient, mongoConf.Name)
			logger.GetLogger().Info("MongoDB connected successfully")
		}
	}

	var statusCache repository.IStatusCache
	var oauthStates cache.IOAuthState
	redisClient, err := cache.NewCache(
		ctx,
		fmt.Sprintf("%s:%s", configuration.C.RedisClient.Host, configuration.C.RedisClient.Port),
		configuration.C.RedisClient.Username,
		configuration.C.RedisClient.Password,
	)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Redis not available - status cache and marketplace connect flow disabled")
	} else {
		defer redisClient.Close()
		statusCache = cache.NewStatusCache(redisClient, statusCacheTTL)
		oauthStates = cache.NewOAuthStateCache(redisClient)
		logger.GetLogger().Info("Redis client initialized successfully.")
	}

	publisher, err := events.NewPublisher(ctx)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Event publisher not available - events will not be published")
		publisher = events.NewNoopPublisher()
	}
	defer publisher.Close()

	limiter := ratelimit.NewLimiter(ratelimit.LimitsFromConfig(configuration.C.Marketplaces))
	httpClient := &http.Client{Timeout: cp.CallTimeout()}
	tokens := oauth.NewTokenManager(
		oauth.ProvidersFromConfig(configuration.C.Marketplaces),
		persistence.NewCredentialRepository(db, dialect),
		oauth.WithHTTPClient(httpClient),
		oauth.WithRefreshTimeout(cp.RefreshTimeout()),
	)
	adapters := marketplace.NewAdapters(configuration.C.Marketplaces, httpClient)

	hub := realtime.NewStatusHub()
	crossPostUC := usecase.NewCrossPostUsecase(
		persistence.NewPostingStatusRepository(db, dialect),
		products,
		adapters,
		limiter,
		tokens,
		usecase.CrossPostOptions{
			MaxAttempts:  cp.MaxAttempts,
			CallTimeout:  cp.CallTimeout(),
			StoreTimeout: 10 * time.Second,
			Delays: usecase.RetryDelays{
				RateLimit: time.Duration(cp.RateLimitDelaySeconds) * time.Second,
				Network:   time.Duration(cp.NetworkDelaySeconds) * time.Second,
				Default:   time.Duration(cp.DefaultDelaySeconds) * time.Second,
			},
			NoRetryUpstreamForNonIdempotent: cp.NoRetryUpstreamForNonIdempotent,
		},
	).WithPublisher(publisher).WithBroadcaster(hub)
	if statusCache != nil {
		crossPostUC = crossPostUC.WithCache(statusCache)
	}

	// Operations left unfinished by a previous process
	if n, err := crossPostUC.Reconcile(ctx, cp.ReconcileAfter()); err != nil {
		logger.GetLogger().WithField("error", err).Error("Startup reconciliation failed")
	} else {
		logger.GetLogger().WithField("count", n).Info("Startup reconciliation done")
	}

	var authHandler httpHandler.IMarketplaceAuthHandler
	if oauthStates != nil {
		authHandler = httpHandler.NewMarketplaceAuthHandler(tokens, oauthStates)
	}
	router := server.InitiateRouter(
		app,
		httpHandler.NewHealthHandler(db),
		httpHandler.NewCrossPostHandler(crossPostUC),
		authHandler,
		hub,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(cp.ReconcileInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := crossPostUC.Reconcile(ctx, cp.ReconcileAfter()); err != nil {
					logger.GetLogger().WithField("error", err).Warn("Reconciliation failed")
				}
				limiter.LogBudgets()
			}
		}
	})

	port := app.Port
	logger.GetLogger().WithFields(map[string]interface{}{"port": port, "tls": app.TLSEnabled}).Info("Starting application")
	// WriteTimeout stays 0 for the SSE stream
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		if app.TLSEnabled {
			cert := app.TLSCertFile
			key := app.TLSKeyFile
			if cert == "" || key == "" {
				logger.GetLogger().Error("TLS enabled but cert or key path empty; falling back to HTTP")
			} else {
				logger.GetLogger().WithFields(map[string]interface{}{"cert": cert, "key": key}).Info("Serving HTTPS")
				if err := httpServer.ListenAndServeTLS(cert, key); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			}
		}
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	select {
	case <-interrupt:
		logger.GetLogger().Info("Application shutdown requested")
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	if err := crossPostUC.Shutdown(shutdownCtx); err != nil {
		logger.GetLogger().WithField("error", err).Warn("Cross-posts still running at shutdown; they will be reconciled on next start")
	}

	if err := g.Wait(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Server returned an error")
		os.Exit(2)
	}
}

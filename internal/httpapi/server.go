package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/otakumori/petals/internal/collect"
	"github.com/otakumori/petals/internal/rewards"
	"github.com/otakumori/petals/internal/shop"
	"github.com/otakumori/petals/internal/webhook"
	"github.com/otakumori/petals/pkg/petals"
)

// Server is the gin HTTP facade over the petal ledger and its call sites.
type Server struct {
	cfg       Config
	logger    *zap.Logger
	ledger    *petals.Service
	collector *collect.Collector
	rewards   *rewards.Service
	shop      *shop.Service
	verifier  *webhook.Verifier
	processor *webhook.Processor
	limiter   RateLimiter
	metrics   http.Handler
}

// Dependencies bundles the collaborators the server routes to.
type Dependencies struct {
	Logger    *zap.Logger
	Ledger    *petals.Service
	Collector *collect.Collector
	Rewards   *rewards.Service
	Shop      *shop.Service
	Verifier  *webhook.Verifier
	Processor *webhook.Processor
	Limiter   RateLimiter
	Gatherer  prometheus.Gatherer
}

// New wires a Server.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil || deps.Ledger == nil || deps.Collector == nil || deps.Rewards == nil || deps.Shop == nil || deps.Verifier == nil || deps.Processor == nil {
		return nil, fmt.Errorf("%w: missing server dependency", petals.ErrInvalidServiceConfig)
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = NewWindowLimiter(cfg.RateLimitPerUser, cfg.RateLimitWindow)
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:       cfg,
		logger:    deps.Logger,
		ledger:    deps.Ledger,
		collector: deps.Collector,
		rewards:   deps.Rewards,
		shop:      deps.Shop,
		verifier:  deps.Verifier,
		processor: deps.Processor,
		limiter:   limiter,
		metrics:   promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	}, nil
}

// Router builds the gin engine with all routes and middleware attached.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(server.metrics))
	router.POST("/webhooks/fulfillment", server.handleFulfillmentWebhook)

	api := router.Group("/api")
	api.Use(sessionMiddleware([]byte(server.cfg.SessionSigningKey), server.cfg.SessionIssuer, server.cfg.SessionCookieName))

	api.GET("/wallet", server.handleWallet)
	api.GET("/shop/items", server.handleShopItems)
	api.GET("/shop/discount", server.handleDiscountTier)

	mutating := api.Group("")
	mutating.Use(rateLimitMiddleware(server.limiter))
	mutating.POST("/petals/collect", server.handleCollect)
	mutating.POST("/quests/:id/complete", server.handleQuestComplete)
	mutating.POST("/achievements/:id/unlock", server.handleAchievementUnlock)
	mutating.POST("/shop/purchase", server.handlePurchase)
	mutating.POST("/vouchers/redeem", server.handleVoucherRedeem)
	mutating.POST("/admin/adjust", server.handleAdminAdjust)

	return router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("petal api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

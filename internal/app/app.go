package app

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/flowpay/server/internal/module/auth"
	"github.com/flowpay/server/internal/module/payment"
	"github.com/flowpay/server/internal/module/payment/domain"
	paymentprovider "github.com/flowpay/server/internal/module/payment/provider"
	sharedcache "github.com/flowpay/server/internal/shared/cache"
	"github.com/flowpay/server/internal/shared/config"
	"github.com/flowpay/server/internal/shared/database"
	"github.com/flowpay/server/internal/shared/logger"
	"github.com/flowpay/server/internal/shared/metrics"
	"github.com/flowpay/server/internal/shared/middleware"
)

// App wires together configuration, storage, the payment module, and the
// HTTP router.
type App struct {
	config *config.Config
	db     *gorm.DB
	redis  redis.UniversalClient
	router *gin.Engine
	logger *zap.Logger

	metrics    *metrics.Metrics
	jwtManager *auth.JWTManager
	registry   *payment.ProviderRegistry

	paymentHandler *payment.Handler
	webhookHandler *payment.WebhookHandler
	paymentService *payment.Service
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &App{
		config:  cfg,
		logger:  log,
		metrics: metrics.New(""),
	}

	// Initialize database
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	app.db = db

	// Initialize Redis (optional, used for idempotency keys)
	if cfg.Redis.Address != "" {
		redisClient, err := sharedcache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Warn("redis connection failed, idempotency keys disabled", zap.Error(err))
		} else {
			app.redis = redisClient
		}
	}

	app.jwtManager = auth.NewJWTManager(&auth.JWTConfig{
		Secret:            cfg.Auth.JWTSecret,
		AccessTokenExpiry: cfg.Auth.AccessTokenExpiry,
	})

	if err := app.initPaymentModule(); err != nil {
		return nil, fmt.Errorf("init payment module: %w", err)
	}

	app.router = app.setupRouter()
	app.registerRoutes()

	return app, nil
}

// initPaymentModule builds the payment stack and registers every enabled
// gateway.
func (a *App) initPaymentModule() error {
	registry := payment.NewProviderRegistry()
	cfg := a.config.Providers

	if cfg.MoMo.Enabled {
		registry.Register(paymentprovider.NewMoMoProvider(&paymentprovider.MoMoConfig{
			PartnerCode: cfg.MoMo.PartnerCode,
			AccessKey:   cfg.MoMo.AccessKey,
			SecretKey:   cfg.MoMo.SecretKey,
			Endpoint:    cfg.MoMo.Endpoint,
			IPNURL:      cfg.MoMo.IPNURL,
			ReturnURL:   cfg.MoMo.ReturnURL,
			Timeout:     cfg.MoMo.Timeout,
		}))
	}
	if cfg.ZaloPay.Enabled {
		registry.Register(paymentprovider.NewZaloPayProvider(&paymentprovider.ZaloPayConfig{
			AppID:       cfg.ZaloPay.AppID,
			Key1:        cfg.ZaloPay.Key1,
			Key2:        cfg.ZaloPay.Key2,
			Endpoint:    cfg.ZaloPay.Endpoint,
			CallbackURL: cfg.ZaloPay.CallbackURL,
			Timeout:     cfg.ZaloPay.Timeout,
		}))
	}
	if cfg.VNPay.Enabled {
		registry.Register(paymentprovider.NewVNPayProvider(&paymentprovider.VNPayConfig{
			TmnCode:    cfg.VNPay.TmnCode,
			HashSecret: cfg.VNPay.HashSecret,
			PayURL:     cfg.VNPay.PayURL,
			APIURL:     cfg.VNPay.APIURL,
			ReturnURL:  cfg.VNPay.ReturnURL,
			Timeout:    cfg.VNPay.Timeout,
		}))
	}
	if cfg.Stripe.Enabled {
		registry.Register(paymentprovider.NewStripeProvider(&paymentprovider.StripeConfig{
			APIKey:        cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
		}))
	}
	if cfg.PayPal.Enabled {
		pp, err := paymentprovider.NewPayPalProvider(&paymentprovider.PayPalConfig{
			ClientID:    cfg.PayPal.ClientID,
			Secret:      cfg.PayPal.Secret,
			IsProd:      cfg.PayPal.IsProd,
			WebhookID:   cfg.PayPal.WebhookID,
			WebhookCert: cfg.PayPal.WebhookCert,
			ReturnURL:   cfg.PayPal.ReturnURL,
			CancelURL:   cfg.PayPal.CancelURL,
		})
		if err != nil {
			return fmt.Errorf("init paypal provider: %w", err)
		}
		registry.Register(pp)
	}

	for _, name := range registry.List() {
		a.logger.Info("payment provider registered", zap.String("provider", string(name)))
	}
	a.registry = registry

	repo := payment.NewRepository(a.db)
	reconciler := payment.NewReconciler(repo, a.logger)
	a.paymentService = payment.NewService(repo, registry, reconciler, a.metrics, a.logger)
	a.paymentHandler = payment.NewHandler(a.paymentService)
	a.webhookHandler = payment.NewWebhookHandler(repo, registry, reconciler, a.metrics, a.logger)

	return nil
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.Metrics(a.metrics))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// registerRoutes mounts the API and webhook routes.
func (a *App) registerRoutes() {
	v1 := a.router.Group("/api/v1")

	protected := v1.Group("")
	protected.Use(middleware.Auth(a.jwtManager))
	protected.Use(middleware.Idempotency(a.redis))
	a.paymentHandler.RegisterRoutes(protected)

	// Webhooks carry their own signatures, no bearer auth.
	webhooks := a.router.Group("/webhooks")
	a.webhookHandler.RegisterRoutes(webhooks)
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Providers returns the names of the registered payment providers.
func (a *App) Providers() []domain.Provider {
	return a.registry.List()
}

// Stop stops the application and releases resources.
func (a *App) Stop() {
	if a.redis != nil {
		if err := sharedcache.Close(a.redis); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

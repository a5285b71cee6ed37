package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/handlers"
	"finitefield.org/storefront/internal/payments"
	"finitefield.org/storefront/internal/platform/config"
	pfirestore "finitefield.org/storefront/internal/platform/firestore"
	"finitefield.org/storefront/internal/platform/idempotency"
	"finitefield.org/storefront/internal/platform/jobs"
	"finitefield.org/storefront/internal/platform/kvstore"
	"finitefield.org/storefront/internal/platform/metrics"
	"finitefield.org/storefront/internal/platform/observability"
	"finitefield.org/storefront/internal/platform/secrets"
	"finitefield.org/storefront/internal/platform/session"
	"finitefield.org/storefront/internal/repositories/kv"
	"finitefield.org/storefront/internal/services"
)

const lockStripes = 256

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("STOREFRONT_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("storefront")

	var loadOpts []config.Option
	if project := strings.TrimSpace(os.Getenv("STOREFRONT_GCP_PROJECT")); project != "" {
		resolver, err := secrets.NewResolver(ctx, project, []secrets.Option{secrets.WithLogger(logger.Named("secrets"))})
		if err != nil {
			logger.Fatal("failed to initialise secret resolver", zap.Error(err))
		}
		defer func() {
			if err := resolver.Close(); err != nil {
				logger.Warn("secret resolver close error", zap.Error(err))
			}
		}()
		loadOpts = append(loadOpts, config.WithSecretResolver(resolver))
	}

	cfg, err := config.Load(ctx, loadOpts...)
	if err != nil {
		var vErr *config.ValidationError
		if errors.As(err, &vErr) {
			logger.Fatal("invalid configuration", zap.Strings("fields", vErr.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	checkoutMetrics := metrics.NewCheckout()

	var redisClient *redis.Client
	if cfg.Store.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
	}

	store, err := newStore(cfg.Store, redisClient)
	if err != nil {
		logger.Fatal("failed to initialise kv store", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("kv store close error", zap.Error(err))
		}
	}()

	cartRepo, err := kv.NewCartRepository(store)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}
	attemptRepo, err := kv.NewAttemptRepository(store, nil)
	if err != nil {
		logger.Fatal("failed to initialise attempt repository", zap.Error(err))
	}

	backendClient, err := backend.NewClient(backend.Config{
		BaseURL:         cfg.Backend.BaseURL,
		APIToken:        cfg.Backend.APIToken,
		Timeout:         cfg.Backend.OrderTimeout,
		MaxRetries:      cfg.Backend.OrderMaxRetries,
		BreakerFailures: uint32(cfg.Backend.BreakerFailures),
		BreakerOpenFor:  cfg.Backend.BreakerOpenFor,
		Metrics:         checkoutMetrics,
		Logger:          observability.NewEventLogger(logger, "backend"),
	})
	if err != nil {
		logger.Fatal("failed to initialise backend client", zap.Error(err))
	}

	gateway, err := newPaymentManager(cfg.Gateway, backendClient, observability.NewEventLogger(logger, "payments"))
	if err != nil {
		logger.Fatal("failed to initialise payment gateway", zap.Error(err))
	}

	escalator, closeEscalator, err := newEscalator(ctx, cfg.Escalation, logger)
	if err != nil {
		logger.Fatal("failed to initialise escalation publisher", zap.Error(err))
	}
	defer closeEscalator()

	locks := services.NewSessionLocks(lockStripes)
	pricing := services.PricingConfig{
		Currency:              cfg.Pricing.Currency,
		TaxRateBPS:            cfg.Pricing.TaxRateBPS,
		FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		FlatShippingFee:       cfg.Pricing.FlatShippingFee,
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Repository: cartRepo,
		Catalog:    backendClient,
		Locks:      locks,
		Logger:     services.Logger(observability.NewEventLogger(logger, "cart")),
		Currency:   cfg.Pricing.Currency,
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}
	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:   cartService,
		Pricing: pricing,
		Logger:  services.Logger(observability.NewEventLogger(logger, "checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}
	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Attempts:      attemptRepo,
		Carts:         cartRepo,
		Checkout:      checkoutService,
		Gateway:       gateway,
		Orders:        backendClient,
		Escalator:     escalator,
		Locks:         locks,
		Metrics:       checkoutMetrics,
		Logger:        services.Logger(observability.NewEventLogger(logger, "payment")),
		Channels:      cfg.Gateway.Channels,
		VerifyTimeout: cfg.Gateway.VerifyTimeout,
		OrderTimeout:  cfg.Backend.OrderTimeout,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	reconcileCtx, reconcileCancel := context.WithCancel(context.Background())
	var reconcileWG sync.WaitGroup
	if cfg.Reconcile.Interval > 0 {
		reconciler, err := services.NewReconciler(services.ReconcilerDeps{
			Attempts:      attemptRepo,
			Carts:         cartRepo,
			Gateway:       gateway,
			Orders:        backendClient,
			Escalator:     escalator,
			Metrics:       checkoutMetrics,
			Locks:         locks,
			Logger:        services.Logger(observability.NewEventLogger(logger, "reconcile")),
			StaleAfter:    cfg.Reconcile.StaleAfter,
			MaxAttempts:   cfg.Reconcile.MaxAttempts,
			VerifyTimeout: cfg.Gateway.VerifyTimeout,
			OrderTimeout:  cfg.Backend.OrderTimeout,
		})
		if err != nil {
			logger.Fatal("failed to initialise reconciler", zap.Error(err))
		}
		reconcileWG.Add(1)
		go func() {
			defer reconcileWG.Done()
			if err := reconciler.Run(reconcileCtx, cfg.Reconcile.Interval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("reconciler stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("reconciler disabled; orphaned payments will not be re-verified")
	}

	var idempotencyStore idempotency.Store = idempotency.NewMemoryStore()
	if redisClient != nil {
		idempotencyStore = idempotency.NewRedisStore(redisClient)
	}
	submitGuard := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	sessions, err := session.NewManager(session.Config{
		CookieName:   cfg.Session.CookieName,
		HashKey:      []byte(cfg.Session.HashKey),
		BlockKey:     []byte(cfg.Session.BlockKey),
		CookieSecure: cfg.Session.Secure,
		MaxAge:       cfg.Session.MaxAge,
	})
	if err != nil {
		logger.Fatal("failed to initialise session manager", zap.Error(err))
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(startedAt)),
		handlers.WithHealthCheck("kv", storeProbe(store)),
	)

	apiMiddlewares := []func(http.Handler) http.Handler{sessions.Middleware}
	if cfg.Identity.TrustHeaders {
		apiMiddlewares = append(apiMiddlewares, handlers.TrustedIdentityMiddleware(cfg.Identity.UserIDHeader))
	}
	apiMiddlewares = append(apiMiddlewares, observability.RequestLoggerMiddleware())

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(cfg.Server.ProjectID),
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.RecoveryMiddleware(logger.Named("http")),
			handlers.RequestMetricsMiddleware(checkoutMetrics),
		),
		handlers.WithAPIMiddlewares(apiMiddlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(checkoutMetrics.Handler()),
		handlers.WithCartRoutes(handlers.NewCartHandlers(cartService, cfg.Pricing.Currency).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(
			checkoutService,
			paymentService,
			cfg.Pricing.Currency,
			handlers.WithPaymentSubmitGuard(submitGuard),
		).Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront listening",
			zap.String("kvBackend", cfg.Store.Backend),
			zap.String("gateway", cfg.Gateway.Provider),
			zap.Duration("reconcileInterval", cfg.Reconcile.Interval),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	reconcileCancel()
	reconcileWG.Wait()
}

func newStore(cfg config.StoreConfig, redisClient *redis.Client) (kvstore.Store, error) {
	switch cfg.Backend {
	case "redis":
		if redisClient == nil {
			return nil, errors.New("redis client is required")
		}
		return kvstore.NewRedisStore(redisClient, cfg.ScopeTTL), nil
	case "firestore":
		provider := pfirestore.NewProvider(pfirestore.Config{
			ProjectID:    cfg.FirestoreProject,
			EmulatorHost: cfg.FirestoreEmulator,
		})
		return kvstore.NewFirestoreStore(provider, cfg.ScopeTTL), nil
	default:
		return kvstore.NewMemoryStore(cfg.ScopeTTL), nil
	}
}

// newPaymentManager registers the configured gateway and the verifier for its references.
func newPaymentManager(cfg config.GatewayConfig, backendClient *backend.Client, logger observability.EventLogger) (*payments.Manager, error) {
	var stripeAdapter *payments.Stripe
	if cfg.Provider == "stripe" || cfg.VerifyVia == "stripe" {
		adapter, err := payments.NewStripe(payments.StripeConfig{
			APIKey:         cfg.StripeSecretKey,
			PublishableKey: cfg.PublicKey,
			AccountID:      cfg.StripeAccount,
			Logger:         payments.Logger(logger),
		})
		if err != nil {
			return nil, err
		}
		stripeAdapter = adapter
	}

	gateways := make(map[string]payments.Gateway, 1)
	switch cfg.Provider {
	case "stripe":
		gateways["stripe"] = stripeAdapter
	default:
		inline, err := payments.NewInlineGateway(cfg.PublicKey, cfg.Channels)
		if err != nil {
			return nil, err
		}
		gateways[cfg.Provider] = inline
	}

	var verifier payments.Verifier = backendClient
	if cfg.VerifyVia == "stripe" {
		verifier = stripeAdapter
	}
	return payments.NewManager(gateways,
		payments.WithDefaultProvider(cfg.Provider),
		payments.WithVerifier(cfg.Provider, verifier),
	)
}

func newEscalator(ctx context.Context, cfg config.EscalationConfig, logger *zap.Logger) (services.Escalator, func(), error) {
	logEscalator := services.NewLogEscalator(services.Logger(observability.NewEventLogger(logger, "escalation")))
	if strings.TrimSpace(cfg.Topic) == "" || strings.TrimSpace(cfg.PubSubProject) == "" {
		return logEscalator, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSubProject)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.Topic)
	publisher, err := jobs.NewPubSubEscalationPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closer := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return fanoutEscalator{logEscalator, publisher}, closer, nil
}

// fanoutEscalator logs every escalation and then publishes it.
type fanoutEscalator []services.Escalator

func (f fanoutEscalator) Escalate(ctx context.Context, escalation services.Escalation) error {
	var errs []error
	for _, e := range f {
		if err := e.Escalate(ctx, escalation); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const healthScope = "system:health"

func storeProbe(store kvstore.Store) handlers.HealthCheck {
	return func(ctx context.Context) error {
		if err := store.Put(ctx, healthScope, "probe", []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
			return err
		}
		_, err := store.Get(ctx, healthScope, "probe")
		return err
	}
}

func buildInfoFromEnv(started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("STOREFRONT_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("STOREFRONT_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(os.Getenv("STOREFRONT_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

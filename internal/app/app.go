package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/maiztros/pos/internal/domain/auth"
	"github.com/maiztros/pos/internal/domain/coupon"
	"github.com/maiztros/pos/internal/domain/idempotency"
	"github.com/maiztros/pos/internal/domain/order"
	"github.com/maiztros/pos/internal/domain/payment"
	"github.com/maiztros/pos/internal/events"
	"github.com/maiztros/pos/internal/handler"
	"github.com/maiztros/pos/internal/storage/dynamo"
	"github.com/maiztros/pos/internal/storage/postgres"
	"github.com/maiztros/pos/pkg/health"
	"github.com/maiztros/pos/pkg/httpmiddleware"
)

const serviceName = "pos-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("idempotency_backend", cfg.Idempotency.Backend),
		zap.Bool("auth", cfg.Auth.Enabled),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Register(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.Register(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Events.
	var publisher events.Publisher = events.Nop{}
	if cfg.Events.NATSURL != "" {
		nc, err := events.NewNATSPublisher(cfg.Events.NATSURL, serviceName)
		if err != nil {
			return errors.Wrap(err, "create event publisher")
		}
		defer func() {
			if err := nc.Close(); err != nil {
				lg.Warn("Close event publisher", zap.Error(err))
			}
		}()
		healthSvc.Register(health.Readiness, "nats", time.Second, nc.Check)
		publisher = nc
	} else {
		lg.Warn("NATS URL not set, order events are dropped")
	}
	orderEvents := events.NewOrderEvents(publisher, cfg.Events.Prefix)

	// Repositories.
	ledgerStore, err := newLedgerStore(ctx, cfg.Idempotency, pool)
	if err != nil {
		return errors.Wrap(err, "create idempotency store")
	}
	orderRepo := postgres.NewOrderRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	ledger := idempotency.NewLedger(ledgerStore, idempotency.Config{
		AbandonAfter:  cfg.Idempotency.AbandonAfter,
		BloomCapacity: cfg.Idempotency.BloomCapacity,
		BloomFPR:      cfg.Idempotency.BloomFPR,
	})
	orderService, err := order.NewService(orderRepo, ledger, coupon.NewRepoValidator(couponRepo), orderEvents, m)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	paymentService := payment.NewService(paymentRepo, orderEvents)

	// HTTP handlers.
	h := handler.NewHandler(
		handler.Config{WebhookSecret: cfg.Payments.WebhookSecret},
		orderService,
		paymentService,
	)
	var staff func(http.Handler) http.Handler
	if cfg.Auth.Enabled {
		authenticate := handler.RequireAPIKey(auth.NewAuthenticator(apikeyRepo, []byte(cfg.Auth.Pepper)))
		authorize := handler.RequireScope(auth.ScopeStaff)
		staff = func(next http.Handler) http.Handler {
			return authenticate(authorize(next))
		}
	} else {
		lg.Warn("Staff API key authentication disabled")
	}

	r := chi.NewRouter()
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	h.RegisterRoutes(r, staff)

	routeFinder := httpmiddleware.MakeRouteFinder(r)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
			httpmiddleware.Gzip(pgzip.DefaultCompression),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	defer healthSvc.Stop()
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		// Graceful shutdown: stop advertising readiness, let the load
		// balancer notice, then drain in-flight requests.
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	return g.Wait()
}

// newLedgerStore returns the idempotency.Store selected by cfg.Backend.
func newLedgerStore(ctx context.Context, cfg IdempotencyConfig, pool *pgxpool.Pool) (idempotency.Store, error) {
	switch cfg.Backend {
	case BackendDynamoDB:
		client, err := dynamo.NewClient(ctx, cfg.AWSRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, errors.Wrap(err, "dynamodb client")
		}
		return dynamo.NewIdempotencyStore(client, cfg.DynamoTable, cfg.Retention), nil
	case BackendPostgres:
		return postgres.NewIdempotencyStore(pool), nil
	default:
		return nil, errors.Errorf("unknown idempotency backend %q", cfg.Backend)
	}
}

package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/aims-checkout/internal/catalog"
	"github.com/xenking/aims-checkout/internal/domain/cart"
	"github.com/xenking/aims-checkout/internal/domain/checkout"
	"github.com/xenking/aims-checkout/internal/domain/invoice"
	"github.com/xenking/aims-checkout/internal/domain/payment"
	"github.com/xenking/aims-checkout/internal/domain/pricing"
	"github.com/xenking/aims-checkout/internal/events"
	"github.com/xenking/aims-checkout/internal/handler"
	"github.com/xenking/aims-checkout/internal/storage/postgres"
	"github.com/xenking/aims-checkout/pkg/health"
	"github.com/xenking/aims-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and background loops,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Repositories.
	products := catalog.NewGuarded(postgres.NewProductRepository(pool), cfg.Catalog.Breaker(), lg)
	invoices := postgres.NewInvoiceRepository(pool)

	// Event publisher. Kafka writes happen on the queue goroutine.
	var sink events.Publisher = events.Nop{}
	if len(cfg.Events.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Events.Kafka(), lg)
		if err != nil {
			return errors.Wrap(err, "create event publisher")
		}
		defer func() {
			if err := kp.Close(); err != nil {
				lg.Error("Close event publisher", zap.Error(err))
			}
		}()
		sink = kp
	} else {
		lg.Info("No Kafka brokers configured, invoice events are not published")
	}
	publisher := events.NewQueue(sink, cfg.Events.QueueSize, lg)

	// Domain services.
	pricingCfg, err := cfg.Shipping.Pricing()
	if err != nil {
		return errors.Wrap(err, "shipping config")
	}
	engine := pricing.NewEngine(pricingCfg)
	gateway, err := payment.NewGateway(cfg.Gateway.Payment())
	if err != nil {
		return errors.Wrap(err, "create payment gateway")
	}
	session, err := checkout.NewSession(
		cart.New(products),
		invoice.NewBuilder(engine),
		gateway,
		invoices,
		checkout.Options{
			PaymentTimeout: cfg.Checkout.PaymentTimeout,
			Publisher:      publisher,
			TracerProvider: m.TracerProvider(),
			MeterProvider:  m.MeterProvider(),
		},
	)
	if err != nil {
		return errors.Wrap(err, "create checkout session")
	}

	// Health check service.
	sweeperBeat := health.NewHeartbeat()
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("invoice-sweeper", time.Second, sweeperBeat.Check(3*cfg.Checkout.SweepInterval))

	proxies, err := cfg.Proxies()
	if err != nil {
		return errors.Wrap(err, "trusted proxies")
	}

	// HTTP handlers.
	limiter := httpmiddleware.NewLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
	h, err := handler.New(handler.Config{
		ReturnURL:          cfg.Gateway.ReturnURL,
		CheckoutMiddleware: []httpmiddleware.Middleware{limiter.Middleware()},
	}, session, products, engine)
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	// Router: health endpoints + API routes on one server.
	r := chi.NewRouter()
	r.Use(httpmiddleware.RequestID(), httpmiddleware.LogRequests())
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(r)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			func(next http.Handler) http.Handler {
				return otelhttp.NewHandler(next, "aims-checkout",
					otelhttp.WithTracerProvider(m.TracerProvider()),
					otelhttp.WithMeterProvider(m.MeterProvider()),
				)
			},
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.RealIP(proxies),
		),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return healthSvc.Run(gCtx, 10*time.Second)
	})
	g.Go(func() error {
		return limiter.Run(gCtx)
	})
	g.Go(func() error {
		return publisher.Run(gCtx)
	})
	g.Go(func() error {
		return sweepInvoices(gCtx, session, sweeperBeat, cfg.Checkout.SweepInterval)
	})

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "server shutdown")
		}
		return nil
	})
	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}

// sweepInvoices expires invoices that outlived the payment timeout every
// interval until ctx is done. Failures are logged and retried on the next
// tick.
func sweepInvoices(ctx context.Context, s *checkout.Session, hb *health.Heartbeat, interval time.Duration) error {
	lg := zctx.From(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.ExpireStale(ctx)
			if err != nil {
				lg.Error("Expire stale invoices", zap.Error(err))
				continue
			}
			hb.Beat()
			if n > 0 {
				lg.Info("Expired stale invoices", zap.Int64("count", n))
			}
		}
	}
}

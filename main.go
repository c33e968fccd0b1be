package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"newsletter-backend/config"
	"newsletter-backend/controllers"
	"newsletter-backend/database"
	"newsletter-backend/delivery"
	"newsletter-backend/email"
	"newsletter-backend/idempotency"
	"newsletter-backend/logger"
	"newsletter-backend/middlewares"
	"newsletter-backend/newsletters"
	"newsletter-backend/outbox"
	"newsletter-backend/routes"
	"newsletter-backend/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// ---- Tracing
	shutdownTracing, err := telemetry.Setup(context.Background(), cfg.Telemetry, log.Named("telemetry"))
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("flushing traces", zap.Error(err))
		}
	}()

	// ---- Database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	if cfg.AdminUsername != "" {
		created, err := database.SeedOperator(db, cfg.AdminUsername, cfg.AdminPassword)
		if err != nil {
			return err
		}
		if created {
			log.Info("created operator account", zap.String("username", cfg.AdminUsername))
		}
	}

	// ---- Domain
	emailClient := email.NewClient(cfg.Email)
	store := idempotency.NewStore(db, cfg.Database.ClaimLockTimeout)
	publisher := newsletters.NewPublisher(database.NewTransactionManager(db), store, outbox.NewWriter(), log)
	worker := delivery.NewWorker(outbox.NewQueue(db, cfg.Worker.TaskTimeout), emailClient, cfg.Worker, log.Named("delivery"))
	reaper := idempotency.NewReaper(store, cfg.Reaper.Retention, cfg.Reaper.Interval, log.Named("reaper"))

	// ---- Fiber app with global error handler + body limit
	app := fiber.New(fiber.Config{
		ErrorHandler: middlewares.ErrorHandler(log),
		BodyLimit:    cfg.BodyLimitMB * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestid.New())

	// ---- CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowCredentials: false, // using Bearer tokens, not cookies
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
		ExposeHeaders:    "Location, Retry-After",
	}))

	// ---- Global rate limiter (applies to all routes; tune via env)
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitMax,
		Expiration: cfg.RateLimitWin,
	}))

	// ---- Routes
	auth := middlewares.NewAuth(cfg.JWTSecret, cfg.JWTTTL)
	routes.Register(app, routes.Handlers{
		DB:            db,
		Log:           log,
		Auth:          auth,
		Users:         controllers.NewAuthController(db, auth),
		Subscriptions: controllers.NewSubscriptionController(db, emailClient, cfg.BaseURL, log),
		Newsletters:   controllers.NewNewsletterController(db, publisher),
	})

	// ---- Start api, worker and reaper; stop all on signal or first failure
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("API server starting", zap.String("port", cfg.Port))
		return app.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return reaper.Run(ctx) })

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shut down cleanly")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/config"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/db"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/handlers"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/metrics"
	appmw "github.com/SkyNet7k/rifas-backend-sub000/internal/middleware"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/models"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/services"
)

type application struct {
	cfg       *config.Config
	log       *logrus.Logger
	store     *db.Store
	redis     *redis.Client
	service   *services.Service
	notifier  *services.TelegramNotifier
	scheduler *services.Scheduler
	limiter   *appmw.RateLimiter
	server    *http.Server
}

func main() {
	// 0. Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	app := &application{cfg: cfg, log: logger}
	if err := app.init(context.Background()); err != nil {
		logger.WithError(err).Fatal("startup failed")
	}
	defer app.close()

	app.serve()
}

func (app *application) init(ctx context.Context) error {
	// 1. Database
	store, err := db.Open(ctx, app.cfg.DatabaseURL, app.cfg.TursoAuthToken,
		db.WithMaxAttempts(app.cfg.TxMaxAttempts),
		db.WithLogger(app.log),
	)
	if err != nil {
		return err
	}
	app.store = store
	app.log.WithField("dialect", store.Dialect()).Info("database initialized")

	// 2. Configuration cache
	var cache services.ConfigCache
	if app.cfg.RedisURL != "" {
		client, err := services.NewRedisClient(ctx, app.cfg.RedisURL)
		if err != nil {
			return err
		}
		app.redis = client
		cache = services.NewRedisConfigCache(client, app.cfg.ConfigCacheTTL, app.log)
		app.log.Info("configuration cache backed by redis")
	} else {
		cache = services.NewMemoryCache(app.cfg.ConfigCacheTTL)
	}

	var seed *models.Configuration
	if app.cfg.SeedFile != "" {
		if seed, err = config.LoadSeed(app.cfg.SeedFile); err != nil {
			return err
		}
	}
	registry := services.NewRegistry(store, cache, seed, app.log)

	// 3. Telegram bot
	opts := []services.Option{}
	if app.cfg.TelegramToken != "" {
		envIDs, _ := app.cfg.AdminChatIDs()
		chatIDs, err := registry.TelegramChats(ctx, envIDs)
		if err != nil {
			return err
		}
		notifier, err := services.NewTelegramNotifier(app.cfg.TelegramToken, chatIDs, app.log)
		if err != nil {
			app.log.WithError(err).Warn("telegram bot disabled")
		} else {
			notifier.OnRegister(registry.AddTelegramChat)
			app.notifier = notifier
			opts = append(opts, services.WithNotifier(notifier))
		}
	} else {
		app.log.Warn("TELEGRAM_TOKEN not set, admin notifications disabled")
	}
	app.service = services.New(store, registry, app.log, opts...)

	// 4. Sales cutoff
	if app.cfg.SalesCutoffCron != "" {
		scheduler, err := services.NewScheduler(app.service, app.cfg.SalesCutoffCron, app.log)
		if err != nil {
			return err
		}
		app.scheduler = scheduler
	}

	// 5. Router
	app.limiter = appmw.NewRateLimiter(app.cfg.ReserveRatePerSec, app.cfg.ReserveBurst, app.log)
	h := handlers.New(app.service, store, app.log, app.limiter.Handler)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appmw.RequestLogger(app.log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Instrument)
	r.Use(appmw.CORS(app.cfg.Origins()))
	h.Routes(r)

	app.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", app.cfg.Port),
		Handler:      r,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return nil
}

func (app *application) serve() {
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	if app.notifier != nil {
		go app.notifier.Listen(bgCtx)
	}
	if app.scheduler != nil {
		app.scheduler.Start()
	}
	go app.cleanupLimiter(bgCtx)

	errChan := make(chan error, 1)
	go func() {
		app.log.Infof("Servidor corriendo en http://localhost%s", app.server.Addr)
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		app.log.WithError(err).Error("server error")
	case sig := <-quit:
		app.log.WithField("signal", sig.String()).Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if app.scheduler != nil {
		app.scheduler.Stop(ctx)
	}
	stopBackground()

	if err := app.server.Shutdown(ctx); err != nil {
		app.log.WithError(err).Error("graceful shutdown failed")
	} else {
		app.log.Info("server stopped")
	}
}

func (app *application) cleanupLimiter(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.limiter.Cleanup(10 * time.Minute)
		}
	}
}

func (app *application) close() {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.log.WithError(err).Warn("failed to close redis")
		}
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.log.WithError(err).Warn("failed to close database")
		}
	}
}

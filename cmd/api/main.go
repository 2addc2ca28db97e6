package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clinicbooking/internal/api"
	"clinicbooking/internal/booking"
	"clinicbooking/internal/clinic"
	"clinicbooking/internal/guard"
	"clinicbooking/internal/httpapi"
	"clinicbooking/internal/review"
	"clinicbooking/pkg/clinicapi"
	"clinicbooking/pkg/config"
	"clinicbooking/pkg/db"
	"clinicbooking/pkg/logger"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if cfg.Session.Secret == "" {
		log.Fatal("SESSION_SECRET is required")
	}

	// Budget amounts go over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatal("db open", zap.Error(err))
	}
	defer conn.Close()

	if cfg.MigrationsPath != "" {
		if err := db.MigrateConfig(cfg.MigrationsPath, cfg); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
		log.Info("migrations applied", zap.String("path", cfg.MigrationsPath))
	}

	var directory clinic.Directory = clinic.NewPgDirectory(conn)
	if cfg.ClinicAPI.BaseURL != "" {
		directory = clinic.HTTPDirectory{Client: clinicapi.New(cfg.ClinicAPI.BaseURL, cfg.ClinicAPI.Timeout)}
		log.Info("clinic directory: remote", zap.String("base_url", cfg.ClinicAPI.BaseURL))
	}

	policy := guard.Policy{
		MaxAttempts: cfg.Guard.MaxAttempts,
		Window:      cfg.Guard.Window,
		BaseLockout: cfg.Guard.BaseLockout,
		MaxLockout:  cfg.Guard.MaxLockout,
	}
	var (
		accessGuard guard.Guard
		rdb         *redis.Client
	)
	if cfg.Redis.Addr != "" {
		rdb, err = guard.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Username, cfg.Redis.Password)
		if err != nil {
			log.Fatal("redis connect", zap.Error(err))
		}
		defer func() { _ = rdb.Close() }()
		accessGuard = guard.NewRedisGuard(rdb, policy)
	} else {
		log.Warn("REDIS_ADDR not set: access guard kept in process memory")
		accessGuard = guard.NewMemoryGuard(policy)
	}

	proxies, err := api.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatal("TRUSTED_PROXIES", zap.Error(err))
	}

	svc := booking.NewService(booking.NewPgStore(conn), directory, accessGuard, slaPolicy(cfg.SLA, log), log)

	router := httpapi.NewRouter(httpapi.Dependencies{
		Cfg:      cfg,
		Log:      log,
		DB:       conn,
		Redis:    rdb,
		Bookings: svc,
		Clinics:  directory,
		Reviews:  review.NewPgRepository(conn),
		Proxies:  proxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
}

func slaPolicy(c config.SLAConfig, log *zap.Logger) booking.SLAPolicy {
	p := booking.DefaultSLAPolicy()
	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			log.Warn("unknown SLA_TIMEZONE, keeping default", zap.String("tz", c.Timezone), zap.Error(err))
		} else {
			p.Calendar.Location = loc
		}
	}
	if c.BudgetHours > 0 {
		p.BudgetHours = float64(c.BudgetHours)
	}
	if c.DayStart >= 0 && c.DayEnd > c.DayStart && c.DayEnd <= 24 {
		p.Calendar.DayStart = c.DayStart
		p.Calendar.DayEnd = c.DayEnd
	}
	return p
}

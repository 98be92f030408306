package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-gate-api/internal/gateway"
	"github.com/noah-isme/sma-gate-api/internal/models"
	"github.com/noah-isme/sma-gate-api/internal/notify"
	"github.com/noah-isme/sma-gate-api/internal/repository"
	"github.com/noah-isme/sma-gate-api/internal/service"
	"github.com/noah-isme/sma-gate-api/pkg/cache"
	"github.com/noah-isme/sma-gate-api/pkg/config"
	"github.com/noah-isme/sma-gate-api/pkg/database"
	"github.com/noah-isme/sma-gate-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-gate-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-gate-api/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	loc, err := time.LoadLocation(cfg.Gate.Timezone)
	if err != nil {
		logr.Sugar().Fatalw("invalid timezone", "tz", cfg.Gate.Timezone, "error", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect redis", "error", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	inRoomRepo := repository.NewInRoomRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	// Services.
	validate := validator.New()
	metrics := service.NewMetrics()
	dashboard := gateway.NewDashboardHub(logr)

	resolver := service.NewScheduleResolver(scheduleRepo, cacheRepo, cfg.Gate.ScheduleCacheTTL, loc, cfg.Gate.EarlyAccessLead, logr)
	attendance := service.NewAttendanceService(attendanceRepo, inRoomRepo, cfg.Gate, validate, logr)
	sessions := service.NewSessionService(sessionRepo, cfg.Gate, metrics, logr)
	tracker := service.NewSlotTracker(cfg.Gate, sessionRepo, resolver, metrics, logr)
	mode := service.NewModeCoordinator(cfg.Gate, loc, resolver, attendance, dashboard, metrics, logr)

	sender := notify.NewSender(cfg.Notify)
	dispatcher := notify.NewDispatcher(sender, cfg.Notify, logr)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	poller := service.NewPollerService(userRepo, attendance, sessions, dispatcher, metrics, logr)

	router := gateway.NewRouter(cfg.Gate, gateway.RouterDeps{
		Devices:  deviceRepo,
		Users:    userRepo,
		Mode:     mode,
		Tracker:  tracker,
		Sessions: sessions,
		Ledger:   attendance,
		Schedule: resolver,
		Poller:   poller,
		Bus:      dashboard,
		Metrics:  metrics,
	}, logr)

	devices := gateway.NewDeviceHub(cfg.Gate, router, deviceRepo, cacheRepo, dashboard, metrics, logr)
	defer devices.Close()
	defer dashboard.Close()

	warningLead := int(cfg.Gate.BreakWarningLead / time.Minute)
	tracker.OnBreakWarning = func(slot *models.ActiveSlot) {
		message := fmt.Sprintf("Break ends in %d minutes", warningLead)
		devices.BuzzRoom(slot.Room, 3, message)
		dashboard.Broadcast(models.EventBreakWarning, map[string]interface{}{
			"room":     slot.Room,
			"slot_ref": slot.SlotRef,
			"ends_at":  slot.EndTime,
			"message":  message,
		})
	}

	if err := tracker.Rehydrate(ctx); err != nil {
		logr.Sugar().Errorw("slot rehydration failed", "error", err)
	}

	go runTicker(ctx, cfg.Gate.ModeTickInterval, func(now time.Time) {
		if err := mode.CheckTransitions(ctx, now); err != nil {
			logr.Sugar().Errorw("mode tick failed", "error", err)
		}
	})
	go runTicker(ctx, cfg.Gate.SlotTickInterval, func(now time.Time) {
		tracker.CheckTime(ctx, now)
	})
	go runTicker(ctx, cfg.Gate.SweepInterval, func(now time.Time) {
		if _, err := sessions.CleanupExpiredSessions(ctx, now); err != nil {
			logr.Sugar().Errorw("session cleanup failed", "error", err)
		}
		if _, err := sessions.CancelAbandonedSessions(ctx, now); err != nil {
			logr.Sugar().Errorw("session cancellation failed", "error", err)
		}
	})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/ws/device", devices.HandleWS)
	r.GET("/ws/dashboard", dashboard.HandleWS)

	ops := gateway.NewOpsHandler(mode, tracker, sessions)
	ops.Register(r.Group("/api/v1/gate"))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}

func runTicker(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	fn(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now)
		}
	}
}

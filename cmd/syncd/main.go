package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fleetsync/internal/automation"
	boltclient "fleetsync/internal/client/bolt"
	heetchclient "fleetsync/internal/client/heetch"
	uberclient "fleetsync/internal/client/uber"
	"fleetsync/internal/config"
	cronrunner "fleetsync/internal/cron"
	"fleetsync/internal/db"
	"fleetsync/internal/handler"
	"fleetsync/internal/logger"
	"fleetsync/internal/models"
	gormrepository "fleetsync/internal/repository/gorm"
	"fleetsync/internal/service"
	"fleetsync/internal/worker"
)

func main() {
	cfgPath := os.Getenv("FLEET_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("FLEET_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	boltAPI := boltclient.New(boltclient.Config{
		BaseURL:      cfg.Bolt.BaseURL,
		AuthURL:      cfg.Bolt.AuthURL,
		ClientID:     cfg.Bolt.ClientID,
		ClientSecret: cfg.Bolt.ClientSecret,
		Timeout:      cfg.Bolt.Timeout,
	})
	uberAPI := uberclient.New(uberclient.Config{
		BaseURL:      cfg.Uber.BaseURL,
		AuthURL:      cfg.Uber.AuthURL,
		ClientID:     cfg.Uber.ClientID,
		ClientSecret: cfg.Uber.ClientSecret,
		Scopes:       cfg.Uber.Scopes,
		Timeout:      cfg.Uber.Timeout,
	})
	heetchAPI := heetchclient.New(heetchclient.Config{
		BaseURL:  cfg.Heetch.BaseURL,
		LoginURL: cfg.Heetch.LoginURL,
		Timeout:  cfg.Heetch.Timeout,
	})

	portal := automation.New(automation.Config{
		LoginURL:    cfg.Heetch.LoginURL,
		Headless:    cfg.Heetch.Headless,
		StepTimeout: cfg.Heetch.AutomationTimeout,
	}, logger)
	defer portal.Close()

	sessions := service.NewSessionAuthManager(store, portal, logger,
		cfg.Heetch.Phone, cfg.Heetch.Password, cfg.Heetch.CookieTTL)

	orchestrator := service.NewOrchestrator(service.OrchestratorParams{
		Repo:     store,
		Bolt:     boltAPI,
		Uber:     uberAPI,
		Heetch:   heetchAPI,
		Sessions: sessions,
		Logger:   logger,
		BoltLimits: service.ProviderLimits{
			PageLimit: cfg.Bolt.PageLimit,
			MaxPages:  cfg.Bolt.MaxPages,
			MaxSpan:   time.Duration(cfg.Bolt.MaxSpanDays) * 24 * time.Hour,
			Lookback:  time.Duration(cfg.Bolt.LookbackDays) * 24 * time.Hour,
		},
		UberLimits: service.ProviderLimits{
			PageLimit: cfg.Uber.PageLimit,
			MaxPages:  cfg.Uber.MaxPages,
			MaxSpan:   time.Duration(cfg.Uber.MaxSpanDays) * 24 * time.Hour,
			Lookback:  time.Duration(cfg.Uber.LookbackDays) * 24 * time.Hour,
		},
		HeetchLookbackWeeks: cfg.Heetch.LookbackWeeks,
	})

	pool := worker.NewPool(cfg.Worker.PoolSize, cfg.Worker.QueueSize, logger)
	defer pool.Stop()
	batch := service.NewBatchOrchestrator(orchestrator, pool, logger, cfg.Sync.BatchWindowDays)

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn}
	healthHandler.Register(engine)
	syncHandler := &handler.SyncHandler{
		Orchestrator: orchestrator,
		Batch:        batch,
		Repo:         store,
		Logger:       logger,
	}
	syncHandler.Register(engine)
	sessionHandler := &handler.SessionHandler{Sessions: sessions, Logger: logger}
	sessionHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(ctx, logger)
	if cfg.Cron.Enabled {
		registerSchedules(cronRunner, cfg, orchestrator, batch, logger)
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// registerSchedules wires the three periodic tiers for every
// configured org: hourly portal earnings, six-hourly roster and
// payment refresh, and a nightly deep backfill.
func registerSchedules(runner *cronrunner.Runner, cfg config.Config, orchestrator *service.Orchestrator, batch *service.BatchOrchestrator, logger *zap.Logger) {
	orgs := cfg.Sync.Orgs
	if len(orgs) == 0 {
		logger.Warn("no orgs configured, periodic sync disabled")
		return
	}

	for _, orgID := range orgs {
		orgID := orgID

		err := runner.Add(cfg.Cron.HeetchEarnings, "heetch-earnings/"+orgID, func(ctx context.Context) {
			if _, err := orchestrator.Sync(ctx, orgID, models.ProviderHeetch, models.ResourceEarnings, nil); err != nil {
				if errors.Is(err, service.ErrSessionExpired) {
					logger.Warn("portal session expired, operator login required",
						zap.String("org_id", orgID))
					return
				}
				logger.Warn("heetch earnings sync failed", zap.String("org_id", orgID), zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register heetch earnings failed", zap.Error(err))
		}

		err = runner.Add(cfg.Cron.LightSync, "light-sync/"+orgID, func(ctx context.Context) {
			for _, provider := range []string{models.ProviderBolt, models.ProviderUber} {
				if _, err := orchestrator.SyncAll(ctx, orgID, provider); err != nil {
					logger.Warn("light sync failed",
						zap.String("org_id", orgID), zap.String("provider", provider), zap.Error(err))
				}
			}
		})
		if err != nil {
			logger.Warn("cron register light sync failed", zap.Error(err))
		}

		err = runner.Add(cfg.Cron.HeavySync, "heavy-sync/"+orgID, func(ctx context.Context) {
			end := time.Now().UTC()
			start := end.AddDate(0, 0, -cfg.Sync.HeavyLookbackDays)
			heavy := []struct{ provider, resource string }{
				{models.ProviderBolt, models.ResourceTrips},
				{models.ProviderBolt, models.ResourceStateLogs},
				{models.ProviderUber, models.ResourcePayments},
			}
			for _, res := range heavy {
				report := batch.Run(ctx, orgID, res.provider, res.resource, start, end)
				if report.Failed > 0 {
					logger.Warn("heavy sync finished with failed windows",
						zap.String("org_id", orgID),
						zap.String("provider", res.provider),
						zap.String("resource", res.resource),
						zap.Int("windows", report.Windows),
						zap.Int("failed", report.Failed))
				}
			}
		})
		if err != nil {
			logger.Warn("cron register heavy sync failed", zap.Error(err))
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/taskhive/taskhive/internal/api"
	"github.com/taskhive/taskhive/internal/app"
	"github.com/taskhive/taskhive/internal/app/maintenance"
	iauth "github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/cache"
	"github.com/taskhive/taskhive/internal/database"
	"github.com/taskhive/taskhive/internal/permissions"
	"github.com/taskhive/taskhive/internal/services"
	"github.com/taskhive/taskhive/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server and the CLI commands.
type runtimeStack struct {
	DB            *gorm.DB
	Cache         cache.Store
	Redis         *cache.RedisStore
	Sessions      *iauth.SessionService
	Gate          *permissions.Gate
	Audit         *services.AuditService
	Registrations *services.RegistrationService
	Cleaner       *maintenance.Cleaner
	Router        *gin.Engine
}

// bootstrapRuntime initialises the database, cache, services, background jobs and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Cache = cache.NewDatabaseStore(stack.DB)
	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
		} else {
			stack.Cache = stack.Redis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	codec, err := iauth.NewTokenCodec(cfg.Auth.CodecConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise token codec: %w", err)
	}

	gormTokens, err := iauth.NewGormTokenStore(stack.DB, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise token store: %w", err)
	}
	tokens := iauth.WithBlacklistCache(gormTokens, stack.Cache, nil)

	users, err := iauth.NewGormUserStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise user store: %w", err)
	}

	stack.Audit, err = services.NewAuditService(stack.DB, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	mailer, err := cfg.Email.Mailer()
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}

	sessionCfg := cfg.SessionConfig()
	sessionCfg.Audit = stack.Audit
	stack.Sessions, err = iauth.NewSessionService(users, tokens, codec, mailer, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	stack.Gate, err = permissions.NewGate(codec, tokens, users)
	if err != nil {
		return nil, fmt.Errorf("initialise authorization gate: %w", err)
	}

	stack.Registrations, err = services.NewRegistrationService(stack.DB, stack.Audit, services.RegistrationConfig{
		PasswordMinLength: cfg.Auth.Password.MinLength,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise registration service: %w", err)
	}

	approvals, err := services.NewApprovalService(stack.DB, stack.Audit, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise approval service: %w", err)
	}

	userSvc, err := services.NewUserService(stack.DB, stack.Audit, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(tokens,
		maintenance.WithCache(stack.Cache),
		maintenance.WithAudit(stack.Audit),
		maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
		maintenance.WithTokenSchedule(cfg.Maintenance.TokenCleanupSchedule),
		maintenance.WithCacheSchedule(cfg.Maintenance.CacheCleanupSchedule),
		maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:            stack.DB,
		Config:        cfg,
		Sessions:      stack.Sessions,
		Gate:          stack.Gate,
		Registrations: stack.Registrations,
		Approvals:     approvals,
		Users:         userSvc,
		Audit:         stack.Audit,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Sessions != nil {
		s.Sessions.WaitForMail()
	}
	if s.Cleaner != nil {
		if stopCtx := s.Cleaner.Stop(); stopCtx != nil {
			<-stopCtx.Done()
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected",
		zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}

package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	iauth "github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/cache"
	"github.com/taskhive/taskhive/internal/services"
	"github.com/taskhive/taskhive/pkg/logger"
	"github.com/taskhive/taskhive/pkg/metrics"
)

const (
	defaultAuditRetentionDays = 90
	defaultTokenSpec          = "@hourly"
	defaultCacheSpec          = "@every 15m"
	defaultAuditSpec          = "@daily"
)

// TokenCleaner removes rows past their usable window.
type TokenCleaner interface {
	CleanExpiredTokens(ctx context.Context) (iauth.CleanupStats, error)
}

// Cleaner coordinates background maintenance tasks: purging expired refresh tokens, reset
// tokens and blacklist entries, expired cache rows and stale audit logs.
// Every job only deletes rows that can no longer be used, so it is safe alongside live traffic.
type Cleaner struct {
	tokens    TokenCleaner
	cache     cache.Store
	audit     *services.AuditService
	cron      *cron.Cron
	log       *zap.Logger
	retention int

	tokenSchedule string
	cacheSchedule string
	auditSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithCache enables expiry cleanup of the given cache store.
func WithCache(store cache.Store) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = store
	}
}

// WithAudit enables audit log retention enforcement.
func WithAudit(audit *services.AuditService) Option {
	return func(cleaner *Cleaner) {
		cleaner.audit = audit
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithTokenSchedule overrides the cron specification for token cleanup.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache cleanup.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Jobs whose dependency is nil are skipped.
func NewCleaner(tokens TokenCleaner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		tokens:        tokens,
		retention:     defaultAuditRetentionDays,
		tokenSchedule: defaultTokenSpec,
		cacheSchedule: defaultCacheSpec,
		auditSchedule: defaultAuditSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	jobs := []struct {
		spec    string
		enabled bool
		run     func(context.Context) error
		name    string
	}{
		{c.tokenSchedule, c.tokens != nil, c.cleanTokens, "token"},
		{c.cacheSchedule, c.cache != nil, c.cleanCache, "cache"},
		{c.auditSchedule, c.audit != nil && c.retention > 0, c.cleanAudit, "audit"},
	}

	for _, job := range jobs {
		if !job.enabled {
			continue
		}
		job := job
		if _, err := c.cron.AddFunc(job.spec, func() {
			if err := job.run(context.Background()); err != nil {
				c.log.Warn("maintenance job failed", zap.String("job", job.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s cleanup %q: %w", job.name, job.spec, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially, collecting every failure.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.tokens != nil {
		errs = multierr.Append(errs, c.cleanTokens(ctx))
	}
	if c.cache != nil {
		errs = multierr.Append(errs, c.cleanCache(ctx))
	}
	if c.audit != nil && c.retention > 0 {
		errs = multierr.Append(errs, c.cleanAudit(ctx))
	}
	return errs
}

func (c *Cleaner) cleanTokens(ctx context.Context) error {
	started := time.Now()
	stats, err := c.tokens.CleanExpiredTokens(ctx)
	if err != nil {
		return err
	}

	metrics.TokensCleaned.WithLabelValues("refresh_tokens").Add(float64(stats.RefreshTokens))
	metrics.TokensCleaned.WithLabelValues("password_reset_tokens").Add(float64(stats.ResetTokens))
	metrics.TokensCleaned.WithLabelValues("token_blacklist").Add(float64(stats.Blacklist))

	if stats.Total() > 0 {
		c.log.Info("expired tokens removed",
			zap.Int64("refresh_tokens", stats.RefreshTokens),
			zap.Int64("reset_tokens", stats.ResetTokens),
			zap.Int64("blacklist", stats.Blacklist),
			zap.Duration("took", time.Since(started)),
		)
	}
	return nil
}

func (c *Cleaner) cleanCache(ctx context.Context) error {
	removed, err := c.cache.DeleteExpired(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Debug("expired cache entries removed", zap.Int64("count", removed))
	}
	return nil
}

func (c *Cleaner) cleanAudit(ctx context.Context) error {
	removed, err := c.audit.CleanupOlderThan(ctx, c.retention)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Info("audit logs pruned", zap.Int64("count", removed), zap.Int("retention_days", c.retention))
	}
	return nil
}

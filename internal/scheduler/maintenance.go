package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/finsight/newsengine/internal/engine"
)

type maintenanceJob struct {
	name     string
	schedule cron.Schedule
	nextRun  time.Time
	fn       func(context.Context) error
}

// AddMaintenance registers a recurring housekeeping task on a standard
// cron expression. Must be called before Start.
func (g *Governor) AddMaintenance(name, cronExpr string, fn func(context.Context) error) error {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("parse cron %q: %w", cronExpr, err)
	}
	g.maintenance = append(g.maintenance, &maintenanceJob{
		name:     name,
		schedule: sched,
		nextRun:  sched.Next(g.clock.Now()),
		fn:       fn,
	})
	return nil
}

// runMaintenance executes every due housekeeping task inline. These
// are cheap DB sweeps and do not count against the run cap.
func (g *Governor) runMaintenance(ctx context.Context, now time.Time) {
	for _, m := range g.maintenance {
		if m.nextRun.After(now) {
			continue
		}
		m.nextRun = m.schedule.Next(now)
		if err := m.fn(ctx); err != nil {
			g.logger.Error("maintenance task failed", zap.String("task", m.name), zap.Error(err))
			continue
		}
		g.logger.Info("maintenance task complete", zap.String("task", m.name))
	}
}

// RetentionSweep builds a maintenance func that deletes articles and
// cache entries older than the retention window.
func RetentionSweep(articles engine.ArticleStore, cache engine.CacheStore, clock engine.Clock, retention time.Duration, logger *zap.Logger) func(context.Context) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) error {
		cutoff := clock.Now().Add(-retention)
		removed, err := articles.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("article retention sweep: %w", err)
		}
		pruned, err := cache.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("cache retention sweep: %w", err)
		}
		logger.Info("retention sweep complete",
			zap.Int64("articles_removed", removed),
			zap.Int64("cache_entries_pruned", pruned),
			zap.Time("cutoff", cutoff))
		return nil
	}
}

// Package scheduler runs ingestion on a per-source cadence under a
// global concurrency cap, pausing sources that fail repeatedly.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/finsight/newsengine/internal/engine"
	"github.com/finsight/newsengine/internal/pipeline"
)

// Runner executes one ingestion run for a source.
type Runner interface {
	Run(ctx context.Context, source engine.Source) (*pipeline.RunState, error)
}

// Config controls the governor.
type Config struct {
	MaxConcurrentRuns    int
	AutoDisableThreshold int
	DefaultInterval      time.Duration
	TickInterval         time.Duration
	RefreshInterval      time.Duration
}

// JobStatus is a point-in-time snapshot of one scheduled source.
type JobStatus struct {
	SourceID   int64     `json:"source_id"`
	Name       string    `json:"name"`
	NextRun    time.Time `json:"next_run"`
	Running    bool      `json:"running"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	LastStatus string    `json:"last_status,omitempty"`
}

type job struct {
	source     engine.Source
	schedule   cron.Schedule
	interval   time.Duration
	nextRun    time.Time
	running    bool
	lastRunAt  time.Time
	lastStatus string
}

func (j *job) advance(now time.Time) {
	if j.schedule != nil {
		j.nextRun = j.schedule.Next(now)
		return
	}
	j.nextRun = now.Add(j.interval)
}

// Governor owns the per-source schedule and the run concurrency cap.
type Governor struct {
	cfg     Config
	runner  Runner
	sources engine.SourceStore
	clock   engine.Clock
	logger  *zap.Logger

	mu   sync.Mutex
	jobs map[int64]*job

	sem         chan struct{}
	globalPause atomic.Bool
	wg          sync.WaitGroup

	maintenance []*maintenanceJob
}

// New creates a Governor. Sources are loaded on Start and refreshed
// periodically afterwards.
func New(cfg Config, runner Runner, sources engine.SourceStore, clock engine.Clock, logger *zap.Logger) (*Governor, error) {
	if runner == nil || sources == nil || clock == nil {
		return nil, fmt.Errorf("scheduler: runner, sources and clock are required")
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 3
	}
	if cfg.AutoDisableThreshold <= 0 {
		cfg.AutoDisableThreshold = 5
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = time.Hour
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 15 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{
		cfg:     cfg,
		runner:  runner,
		sources: sources,
		clock:   clock,
		logger:  logger.Named("scheduler"),
		jobs:    make(map[int64]*job),
		sem:     make(chan struct{}, cfg.MaxConcurrentRuns),
	}, nil
}

// Start blocks, dispatching due jobs until the context finishes, then
// waits for in-flight runs to drain.
func (g *Governor) Start(ctx context.Context) error {
	if err := g.Refresh(ctx); err != nil {
		return fmt.Errorf("initial source load: %w", err)
	}

	ticker := time.NewTicker(g.cfg.TickInterval)
	defer ticker.Stop()
	refresh := time.NewTicker(g.cfg.RefreshInterval)
	defer refresh.Stop()

	g.logger.Info("scheduler started",
		zap.Int("jobs", g.jobCount()),
		zap.Int("max_concurrent", g.cfg.MaxConcurrentRuns))

	for {
		select {
		case <-ctx.Done():
			g.wg.Wait()
			g.logger.Info("scheduler stopped")
			return nil
		case <-refresh.C:
			if err := g.Refresh(ctx); err != nil {
				g.logger.Warn("source refresh failed", zap.Error(err))
			}
		case <-ticker.C:
			g.tick(ctx, g.clock.Now())
		}
	}
}

// Refresh reloads active sources, adding new jobs, replacing changed
// ones, and dropping jobs whose source is gone or no longer active.
func (g *Governor) Refresh(ctx context.Context) error {
	active, err := g.sources.ListSources(ctx, engine.StatusActive)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	seen := make(map[int64]bool, len(active))
	now := g.clock.Now()
	for _, src := range active {
		seen[src.ID] = true
		existing, ok := g.jobs[src.ID]
		if ok && sameSchedule(existing.source, src) {
			existing.source = src
			continue
		}
		j, err := g.buildJob(src, now)
		if err != nil {
			g.logger.Warn("skipping source with bad schedule",
				zap.Int64("source_id", src.ID), zap.Error(err))
			continue
		}
		if ok && existing.running {
			j.running = true
		}
		g.jobs[src.ID] = j
	}
	for id := range g.jobs {
		if !seen[id] {
			delete(g.jobs, id)
		}
	}
	return nil
}

func sameSchedule(a, b engine.Source) bool {
	return a.IntervalMinutes == b.IntervalMinutes && a.CronExpression == b.CronExpression
}

func (g *Governor) buildJob(src engine.Source, now time.Time) (*job, error) {
	j := &job{source: src, interval: g.cfg.DefaultInterval}
	if src.IntervalMinutes > 0 {
		j.interval = time.Duration(src.IntervalMinutes) * time.Minute
	}
	if src.CronExpression != "" {
		sched, err := cron.ParseStandard(src.CronExpression)
		if err != nil {
			return nil, fmt.Errorf("parse cron %q: %w", src.CronExpression, err)
		}
		j.schedule = sched
	}
	j.advance(now)
	return j, nil
}

// tick launches every due job. Already-running sources are coalesced:
// their due slot is consumed and the next one scheduled instead.
func (g *Governor) tick(ctx context.Context, now time.Time) {
	if g.globalPause.Load() {
		return
	}
	g.runMaintenance(ctx, now)

	g.mu.Lock()
	var due []int64
	for id, j := range g.jobs {
		if j.nextRun.After(now) {
			continue
		}
		j.advance(now)
		if j.running {
			continue
		}
		j.running = true
		due = append(due, id)
	}
	g.mu.Unlock()

	for _, id := range due {
		g.launch(ctx, id)
	}
}

func (g *Governor) launch(ctx context.Context, sourceID int64) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.clearRunning(sourceID)

		select {
		case g.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-g.sem }()

		g.runSource(ctx, sourceID)
	}()
}

func (g *Governor) clearRunning(sourceID int64) {
	g.mu.Lock()
	if j, ok := g.jobs[sourceID]; ok {
		j.running = false
	}
	g.mu.Unlock()
}

func (g *Governor) runSource(ctx context.Context, sourceID int64) {
	// re-read so status and hints reflect edits made since scheduling
	src, err := g.sources.GetSource(ctx, sourceID)
	if err != nil {
		g.logger.Warn("source lookup failed", zap.Int64("source_id", sourceID), zap.Error(err))
		return
	}
	if src.Status != engine.StatusActive {
		return
	}

	start := g.clock.Now()
	st, err := g.runner.Run(ctx, src)
	status := "error"
	if err == nil {
		status = string(st.Status)
	}

	g.mu.Lock()
	if j, ok := g.jobs[sourceID]; ok {
		j.lastRunAt = start
		j.lastStatus = status
	}
	g.mu.Unlock()

	if err != nil {
		g.logger.Error("run failed to start", zap.Int64("source_id", sourceID), zap.Error(err))
		return
	}
	if st.Status == pipeline.RunStatusError {
		g.maybeDisable(ctx, sourceID)
	}
}

// maybeDisable pauses a source once its consecutive error count
// reaches the threshold. Manual resume reactivates it.
func (g *Governor) maybeDisable(ctx context.Context, sourceID int64) {
	src, err := g.sources.GetSource(ctx, sourceID)
	if err != nil {
		g.logger.Warn("source lookup failed", zap.Int64("source_id", sourceID), zap.Error(err))
		return
	}
	if src.ErrorCount < g.cfg.AutoDisableThreshold {
		return
	}
	if err := g.sources.SetStatus(ctx, sourceID, engine.StatusPaused); err != nil {
		g.logger.Error("auto-disable failed", zap.Int64("source_id", sourceID), zap.Error(err))
		return
	}
	g.mu.Lock()
	delete(g.jobs, sourceID)
	g.mu.Unlock()
	g.logger.Warn("source auto-disabled after consecutive failures",
		zap.Int64("source_id", sourceID),
		zap.Int("error_count", src.ErrorCount))
}

// TriggerNow runs a source immediately, outside its schedule. The run
// still counts against the concurrency cap. Returns false when the
// source is unknown or already running.
func (g *Governor) TriggerNow(ctx context.Context, sourceID int64) bool {
	g.mu.Lock()
	j, ok := g.jobs[sourceID]
	if !ok || j.running {
		g.mu.Unlock()
		return false
	}
	j.running = true
	g.mu.Unlock()

	g.launch(ctx, sourceID)
	return true
}

// Pause marks a source paused; its job drops on the next refresh.
func (g *Governor) Pause(ctx context.Context, sourceID int64) error {
	if err := g.sources.SetStatus(ctx, sourceID, engine.StatusPaused); err != nil {
		return err
	}
	g.mu.Lock()
	delete(g.jobs, sourceID)
	g.mu.Unlock()
	return nil
}

// Resume reactivates a source and clears its consecutive error count.
func (g *Governor) Resume(ctx context.Context, sourceID int64) error {
	if err := g.sources.SetStatus(ctx, sourceID, engine.StatusActive); err != nil {
		return err
	}
	if err := g.sources.ResetErrorCount(ctx, sourceID); err != nil {
		return err
	}

	src, err := g.sources.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}
	j, err := g.buildJob(src, g.clock.Now())
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.jobs[sourceID] = j
	g.mu.Unlock()
	return nil
}

// SetGlobalPause flips the scheduler-wide pause. Paused means no new
// runs launch; in-flight runs finish.
func (g *Governor) SetGlobalPause(paused bool) {
	g.globalPause.Store(paused)
	g.logger.Info("global pause changed", zap.Bool("paused", paused))
}

// GlobalPaused reports the scheduler-wide pause flag.
func (g *Governor) GlobalPaused() bool {
	return g.globalPause.Load()
}

// ListJobs snapshots all scheduled sources.
func (g *Governor) ListJobs() []JobStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]JobStatus, 0, len(g.jobs))
	for id, j := range g.jobs {
		out = append(out, JobStatus{
			SourceID:   id,
			Name:       j.source.Name,
			NextRun:    j.nextRun,
			Running:    j.running,
			LastRunAt:  j.lastRunAt,
			LastStatus: j.lastStatus,
		})
	}
	return out
}

func (g *Governor) jobCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.jobs)
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/finsight/newsengine/internal/engine"
	"github.com/finsight/newsengine/internal/progress"
)

// finalize persists the current item. Duplicates resolve to a skipped
// outcome; new content is written transactionally along with its
// mentions and stage logs, and the source is marked healthy.
func (r *Runner) finalize(ctx context.Context, st *RunState) {
	itemURL := st.ItemURL
	if itemURL == "" {
		itemURL = st.CurrentItemURL()
	}

	// fast-path lookup; the storage unique constraint is the
	// authoritative guard
	if existing, err := r.deps.Articles.FindByHash(ctx, st.ContentHash); err == nil {
		r.recordOutcome(st, engine.ItemResult{URL: itemURL, Outcome: engine.ItemDuplicate, ArticleID: existing.ID})
		return
	} else if !errors.Is(err, engine.ErrNotFound) {
		st.RecordError(fmt.Sprintf("dedup lookup for %s: %v", itemURL, err))
		return
	}

	article := engine.Article{
		SourceID:    st.Source.ID,
		URL:         itemURL,
		Title:       st.Analysis.Title,
		Summary:     st.Analysis.Summary,
		Topic:       st.Analysis.Topic,
		Author:      st.Analysis.Author,
		PublishedAt: st.Analysis.PublishedAt,
		HighImpact:  st.Analysis.HighImpact,
		ContentHash: st.ContentHash,
		RawMetadata: st.Metadata,
		FetchedAt:   r.deps.Clock.Now(),
	}

	id, err := r.deps.Articles.SaveArticle(ctx, article, st.Mentions, r.stageLogs(st))
	if errors.Is(err, engine.ErrDuplicateHash) {
		// lost the race to another run; same outcome as the fast path
		r.recordOutcome(st, engine.ItemResult{URL: itemURL, Outcome: engine.ItemDuplicate})
		return
	}
	if err != nil {
		st.RecordError(fmt.Sprintf("persist article for %s: %v", itemURL, err))
		return
	}

	st.SavedArticleID = id
	if err := r.deps.Sources.UpdateHealth(ctx, st.Source.ID, engine.HealthHealthy, "", r.deps.Clock.Now()); err != nil {
		r.logger.Warn("source health update failed", zap.Int64("source_id", st.Source.ID), zap.Error(err))
	}
	if err := r.deps.Sources.ResetErrorCount(ctx, st.Source.ID); err != nil {
		r.logger.Warn("error count reset failed", zap.Int64("source_id", st.Source.ID), zap.Error(err))
	}

	r.recordOutcome(st, engine.ItemResult{URL: itemURL, Outcome: engine.ItemSaved, ArticleID: id})
}

// recordOutcome accumulates the item result, advances the listing
// index, and selects the terminal or continuation stage.
func (r *Runner) recordOutcome(st *RunState, result engine.ItemResult) {
	st.Results = append(st.Results, result)
	r.emit(itemDoneEvent(r.deps.Clock, st, result))

	if !st.IsListing {
		if result.Outcome == engine.ItemDuplicate {
			st.Stage = StageDuplicateSkipped
			st.Status = RunStatusSkipped
		} else {
			st.Stage = StageItemSaved
		}
		return
	}

	st.CurrentIndex++
	if st.CurrentIndex < len(st.ItemLinks) {
		st.Stage = StageItemSavedContinue
		return
	}
	st.Stage = StageAllItemsDone
}

// stageLogs converts the run's accumulated durations into log rows
// persisted with the article.
func (r *Runner) stageLogs(st *RunState) []engine.ProcessingLog {
	logs := make([]engine.ProcessingLog, 0, len(st.StageDurations))
	for stage, dur := range st.StageDurations {
		logs = append(logs, engine.ProcessingLog{
			SourceID: st.Source.ID,
			Stage:    string(stage),
			Status:   engine.LogSuccess,
			Duration: dur,
		})
	}
	return logs
}

// handleError is the terminal error stage: log every accumulated
// error, mark the source unhealthy with a truncated summary, and bump
// the consecutive error counter.
func (r *Runner) handleError(ctx context.Context, st *RunState) {
	st.Status = RunStatusError

	for _, msg := range st.Errors {
		r.logger.Error("pipeline error",
			zap.String("run_id", st.RunID),
			zap.Int64("source_id", st.Source.ID),
			zap.String("error", msg))
		if err := r.deps.Logs.Append(ctx, engine.ProcessingLog{
			SourceID: st.Source.ID,
			Stage:    string(StageErrorHandled),
			Status:   engine.LogError,
			Error:    msg,
		}); err != nil {
			r.logger.Warn("error log append failed", zap.Error(err))
		}
	}

	summary := st.Errors
	if len(summary) > errorSummaryLimit {
		summary = summary[:errorSummaryLimit]
	}
	if err := r.deps.Sources.UpdateHealth(ctx, st.Source.ID, engine.HealthError, strings.Join(summary, "; "), r.deps.Clock.Now()); err != nil {
		r.logger.Warn("source health update failed", zap.Int64("source_id", st.Source.ID), zap.Error(err))
	}
	if _, err := r.deps.Sources.IncrementErrorCount(ctx, st.Source.ID); err != nil {
		r.logger.Warn("error count increment failed", zap.Int64("source_id", st.Source.ID), zap.Error(err))
	}

	st.Stage = StageErrorHandled
}

func itemDoneEvent(clock engine.Clock, st *RunState, result engine.ItemResult) progress.Event {
	return progress.Event{
		RunID:     st.RunID,
		SourceID:  st.Source.ID,
		TS:        clock.Now(),
		Stage:     progress.StageItemDone,
		ItemIndex: st.CurrentIndex,
		ItemTotal: len(st.ItemLinks),
		Outcome:   string(result.Outcome),
	}
}

package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/finsight/newsengine/internal/engine"
	"github.com/finsight/newsengine/internal/progress"
)

// maxTransitions bounds the routing loop. A 20-item listing needs
// roughly eight transitions per item, so 200 leaves headroom.
const maxTransitions = 200

// errorSummaryLimit caps how many accumulated errors reach the
// source's health record.
const errorSummaryLimit = 3

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Deps bundles the collaborators a Runner needs.
type Deps struct {
	Fetcher     engine.Fetcher
	FeedReader  engine.FeedReader
	Transcripts engine.TranscriptProvider
	Discoverer  engine.Discoverer
	Extractor   engine.Extractor
	Hasher      engine.Hasher
	Clock       engine.Clock
	Sources     engine.SourceStore
	Articles    engine.ArticleStore
	Logs        engine.LogStore
	IDs         IDGenerator
	Emitter     progress.Emitter
	Logger      *zap.Logger
}

// Runner executes pipeline runs.
type Runner struct {
	deps   Deps
	logger *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(deps Deps) (*Runner, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case deps.Discoverer == nil:
		return nil, fmt.Errorf("discoverer is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Hasher == nil:
		return nil, fmt.Errorf("hasher is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.Sources == nil:
		return nil, fmt.Errorf("source store is required")
	case deps.Articles == nil:
		return nil, fmt.Errorf("article store is required")
	case deps.Logs == nil:
		return nil, fmt.Errorf("log store is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Runner{deps: deps, logger: deps.Logger.Named("pipeline")}, nil
}

// Run drives one source through the full state machine and returns
// the terminal run state. The returned error reflects engine-level
// faults only; content failures end up in the state's error list.
func (r *Runner) Run(ctx context.Context, source engine.Source) (*RunState, error) {
	runID, err := r.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("mint run id: %w", err)
	}

	st := NewRunState(runID, source, r.deps.Clock.Now())
	r.emit(progress.Event{RunID: runID, SourceID: source.ID, TS: st.StartedAt, Stage: progress.StageRunStart})
	r.logger.Info("run started",
		zap.String("run_id", runID),
		zap.Int64("source_id", source.ID),
		zap.String("url", source.URL),
		zap.String("kind", string(source.Kind)))

	for i := 0; i < maxTransitions; i++ {
		act := route(st)
		if act == actionDone {
			r.finishRun(st)
			return st, nil
		}
		r.step(ctx, st, act)
	}

	st.RecordError(fmt.Sprintf("transition bound exceeded at stage %s", st.Stage))
	r.handleError(ctx, st)
	r.finishRun(st)
	return st, nil
}

// step executes one action and records its stage duration.
func (r *Runner) step(ctx context.Context, st *RunState, act action) {
	start := r.deps.Clock.Now()
	before := st.Stage

	switch act {
	case actionFetchSource:
		r.fetchSource(ctx, st)
	case actionResolveLinks:
		r.resolveLinks(ctx, st)
	case actionFetchItem:
		r.fetchItem(ctx, st)
	case actionAnalyze:
		r.analyze(ctx, st)
	case actionExtractEntities:
		r.extractEntities(ctx, st)
	case actionFinalize:
		r.finalize(ctx, st)
	case actionHandleError:
		r.handleError(ctx, st)
	}

	dur := r.deps.Clock.Now().Sub(start)
	st.StageDurations[st.Stage] += dur
	r.emit(progress.Event{
		RunID:         st.RunID,
		SourceID:      st.Source.ID,
		TS:            r.deps.Clock.Now(),
		Stage:         progress.StageTransition,
		PipelineStage: string(st.Stage),
		ItemIndex:     st.CurrentIndex,
		ItemTotal:     len(st.ItemLinks),
		Dur:           dur,
	})
	r.logger.Debug("stage transition",
		zap.String("run_id", st.RunID),
		zap.String("from", string(before)),
		zap.String("to", string(st.Stage)),
		zap.Duration("dur", dur))
}

// fetchSource retrieves the source's origin content per kind.
func (r *Runner) fetchSource(ctx context.Context, st *RunState) {
	switch st.Source.Kind {
	case engine.KindFeed:
		r.fetchFeedSource(ctx, st)
	case engine.KindVideo:
		r.fetchVideoSource(ctx, st)
	default:
		r.fetchHTMLSource(ctx, st)
	}
}

func (r *Runner) fetchHTMLSource(ctx context.Context, st *RunState) {
	opts := engine.FetchOptions{TakeScreenshot: r.deps.Extractor.NeedsScreenshot()}
	res, err := r.deps.Fetcher.Fetch(ctx, st.Source.URL, opts)
	if err != nil {
		st.RecordError(fmt.Sprintf("fetch source %s: %v", st.Source.URL, err))
		return
	}
	st.RawHTML = res.RawHTML
	st.RawText = res.RawText
	st.Screenshot = res.Screenshot
	if res.Metadata != nil {
		st.Metadata = res.Metadata
	}
	st.Stage = StageSourceFetched
}

func (r *Runner) fetchFeedSource(ctx context.Context, st *RunState) {
	if r.deps.FeedReader == nil {
		st.RecordError("feed source configured but no feed reader available")
		return
	}
	items, err := r.deps.FeedReader.Read(ctx, st.Source.URL, st.Source.MaxItems)
	if err != nil {
		st.RecordError(fmt.Sprintf("read feed %s: %v", st.Source.URL, err))
		return
	}
	if len(items) == 0 {
		st.RecordError(fmt.Sprintf("feed %s returned no items", st.Source.URL))
		return
	}
	st.IsListing = true
	for _, it := range items {
		st.ItemLinks = append(st.ItemLinks, it.URL)
	}
	st.Stage = StageSourceFetched
}

func (r *Runner) fetchVideoSource(ctx context.Context, st *RunState) {
	if r.deps.Transcripts == nil {
		st.RecordError("video source configured but no transcript provider available")
		return
	}
	text, err := r.deps.Transcripts.Transcript(ctx, st.Source.URL)
	if err != nil {
		st.RecordError(fmt.Sprintf("transcribe %s: %v", st.Source.URL, err))
		return
	}
	st.RawText = text
	st.Stage = StageSourceFetched
}

// resolveLinks classifies the fetched page. Feed and video sources
// arrive already resolved; discovery only applies to HTML markup.
func (r *Runner) resolveLinks(ctx context.Context, st *RunState) {
	if st.Source.Kind != engine.KindHTML {
		r.capItems(st)
		st.Stage = StageLinksResolved
		return
	}

	res, err := r.deps.Discoverer.Discover(ctx, st.Source.URL, st.RawHTML, st.Screenshot, st.Source.ExtractionHints)
	if err != nil {
		// discovery failures degrade to single-article treatment
		r.logger.Warn("discovery failed, treating page as single article",
			zap.String("run_id", st.RunID), zap.Error(err))
		res = engine.DiscoveryResult{IsListing: false}
	}
	st.IsListing = res.IsListing
	st.ItemLinks = res.Links
	r.capItems(st)
	st.Stage = StageLinksResolved
}

func (r *Runner) capItems(st *RunState) {
	if st.Source.MaxItems > 0 && len(st.ItemLinks) > st.Source.MaxItems {
		st.ItemLinks = st.ItemLinks[:st.Source.MaxItems]
	}
}

// fetchItem retrieves the current listing item. A failure records the
// outcome, advances the index, and routes through item_fetch_failed so
// the rest of the listing still processes.
func (r *Runner) fetchItem(ctx context.Context, st *RunState) {
	st.ResetItemFields()
	itemURL := st.ItemLinks[st.CurrentIndex]
	st.ItemURL = itemURL

	res, err := r.deps.Fetcher.Fetch(ctx, itemURL, engine.FetchOptions{})
	if err != nil {
		r.logger.Warn("item fetch failed",
			zap.String("run_id", st.RunID),
			zap.String("url", itemURL),
			zap.Error(err))
		st.Results = append(st.Results, engine.ItemResult{URL: itemURL, Outcome: engine.ItemFetchFailed})
		st.CurrentIndex++
		st.Stage = StageItemFetchFailed
		return
	}

	st.RawHTML = res.RawHTML
	st.RawText = res.RawText
	if res.Metadata != nil {
		st.Metadata = res.Metadata
	}
	st.Stage = StageItemFetched
}

// analyze runs the analysis extraction over the current content.
// Empty content and malformed analyses are fatal.
func (r *Runner) analyze(ctx context.Context, st *RunState) {
	if st.ItemURL == "" {
		st.ItemURL = st.CurrentItemURL()
	}
	if strings.TrimSpace(st.RawText) == "" {
		st.RecordError(fmt.Sprintf("no content to analyze for %s", st.ItemURL))
		return
	}

	st.ContentHash = r.deps.Hasher.Sum(st.RawText)
	analysis, err := r.deps.Extractor.Analyze(ctx, st.ContentHash, st.RawText, st.Source.ExtractionHints)
	if err != nil {
		st.RecordError(fmt.Sprintf("analyze %s: %v", st.ItemURL, err))
		return
	}
	st.Analysis = analysis
	st.Stage = StageAnalyzed
}

// extractEntities never fails the run; a degraded extraction just
// yields no mentions.
func (r *Runner) extractEntities(ctx context.Context, st *RunState) {
	mentions, err := r.deps.Extractor.Entities(ctx, st.ContentHash, st.Analysis.Title, st.RawText)
	if err != nil {
		r.logger.Warn("entity extraction failed, continuing without mentions",
			zap.String("run_id", st.RunID), zap.Error(err))
		mentions = nil
	}
	st.Mentions = mentions
	st.Stage = StageEntitiesExtracted
}

// finishRun emits the terminal event and settles the run status.
func (r *Runner) finishRun(st *RunState) {
	elapsed := r.deps.Clock.Now().Sub(st.StartedAt)
	if st.Status == "" {
		st.Status = RunStatusSuccess
	}

	evtStage := progress.StageRunDone
	if st.Status == RunStatusError {
		evtStage = progress.StageRunError
	}
	r.emit(progress.Event{
		RunID:    st.RunID,
		SourceID: st.Source.ID,
		TS:       r.deps.Clock.Now(),
		Stage:    evtStage,
		Dur:      elapsed,
		Note:     strings.Join(st.Errors, "; "),
	})
	r.logger.Info("run finished",
		zap.String("run_id", st.RunID),
		zap.Int64("source_id", st.Source.ID),
		zap.String("status", st.Status),
		zap.String("stage", string(st.Stage)),
		zap.Int("items", len(st.Results)),
		zap.Duration("elapsed", elapsed))
}

func (r *Runner) emit(evt progress.Event) {
	if r.deps.Emitter != nil {
		r.deps.Emitter.Emit(evt)
	}
}

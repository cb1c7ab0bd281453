// Package pipeline drives a source through the ingestion state
// machine: fetch, discovery, per-item extraction, and finalization.
package pipeline

import (
	"time"

	"github.com/finsight/newsengine/internal/engine"
)

// Stage names a point in the run's progress.
type Stage string

// Pipeline stages.
const (
	StageInit              Stage = "init"
	StageSourceFetched     Stage = "source_fetched"
	StageLinksResolved     Stage = "links_resolved"
	StageItemFetched       Stage = "item_fetched"
	StageItemFetchFailed   Stage = "item_fetch_failed"
	StageAnalyzed          Stage = "analyzed"
	StageEntitiesExtracted Stage = "entities_extracted"
	StageItemSavedContinue Stage = "item_saved_continue"
	StageAllItemsDone      Stage = "all_items_done"
	StageItemSaved         Stage = "item_saved"
	StageDuplicateSkipped  Stage = "duplicate_skipped"
	StageErrorHandled      Stage = "error_handled"
)

// Run statuses.
const (
	RunStatusSuccess = "success"
	RunStatusError   = "error"
	RunStatusSkipped = "skipped"
)

// RunState is the single mutable record threaded through every stage
// handler of one pipeline execution. It is never persisted.
type RunState struct {
	RunID  string
	Source engine.Source
	Stage  Stage
	Status string

	// Raw fetch output for the page currently being processed.
	RawHTML    string
	RawText    string
	Screenshot []byte
	Metadata   map[string]string

	// Listing loop state. Invariant: 0 <= CurrentIndex <= len(ItemLinks),
	// monotonically non-decreasing within a run.
	IsListing    bool
	ItemLinks    []string
	CurrentIndex int
	Results      []engine.ItemResult

	// Extraction output for the current item.
	ItemURL     string
	Analysis    engine.Analysis
	Mentions    []engine.StockMention
	ContentHash string

	Errors         []string
	StageDurations map[Stage]time.Duration
	StartedAt      time.Time
	SavedArticleID int64
}

// NewRunState initializes a run at the init stage.
func NewRunState(runID string, source engine.Source, now time.Time) *RunState {
	return &RunState{
		RunID:          runID,
		Source:         source,
		Stage:          StageInit,
		Metadata:       make(map[string]string),
		StageDurations: make(map[Stage]time.Duration),
		StartedAt:      now,
	}
}

// RecordError appends an error message and marks the run failed.
func (s *RunState) RecordError(msg string) {
	s.Errors = append(s.Errors, msg)
	s.Status = RunStatusError
}

// Failed reports whether the run has recorded any error.
func (s *RunState) Failed() bool {
	return len(s.Errors) > 0 || s.Status == RunStatusError
}

// HasMoreItems reports whether unprocessed listing items remain.
func (s *RunState) HasMoreItems() bool {
	return s.IsListing && s.CurrentIndex < len(s.ItemLinks)
}

// CurrentItemURL returns the listing item being processed, or the
// source URL for single-article runs.
func (s *RunState) CurrentItemURL() string {
	if s.IsListing && s.CurrentIndex < len(s.ItemLinks) {
		return s.ItemLinks[s.CurrentIndex]
	}
	return s.Source.URL
}

// ResetItemFields clears per-item extraction state before the next
// listing item is fetched.
func (s *RunState) ResetItemFields() {
	s.RawHTML = ""
	s.RawText = ""
	s.Screenshot = nil
	s.Metadata = make(map[string]string)
	s.ItemURL = ""
	s.Analysis = engine.Analysis{}
	s.Mentions = nil
	s.ContentHash = ""
	s.SavedArticleID = 0
}

// action is the next step the router selects for a run.
type action int

const (
	actionFetchSource action = iota
	actionResolveLinks
	actionFetchItem
	actionAnalyze
	actionExtractEntities
	actionFinalize
	actionHandleError
	actionDone
)

// route applies the transition rules, errors first, and returns the
// next action for the run's current stage.
func route(s *RunState) action {
	if s.Failed() {
		if s.Stage == StageErrorHandled {
			return actionDone
		}
		return actionHandleError
	}

	switch s.Stage {
	case StageInit:
		return actionFetchSource
	case StageSourceFetched:
		return actionResolveLinks
	case StageLinksResolved:
		if s.IsListing && len(s.ItemLinks) > 0 {
			return actionFetchItem
		}
		return actionAnalyze
	case StageItemFetched:
		return actionAnalyze
	case StageItemFetchFailed:
		if s.HasMoreItems() {
			return actionFetchItem
		}
		if s.IsListing {
			s.Stage = StageAllItemsDone
			return actionDone
		}
		// single-article fetch failure is fatal
		s.RecordError("fetch failed for " + s.Source.URL)
		return actionHandleError
	case StageAnalyzed:
		return actionExtractEntities
	case StageEntitiesExtracted:
		return actionFinalize
	case StageItemSavedContinue:
		return actionFetchItem
	case StageAllItemsDone, StageItemSaved, StageDuplicateSkipped, StageErrorHandled:
		return actionDone
	default:
		s.RecordError("unknown pipeline stage: " + string(s.Stage))
		return actionHandleError
	}
}

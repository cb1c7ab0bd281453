// Package progress defines the event stream emitted by pipeline runs.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StageTransition Stage = "STAGE_TRANSITION"
	StageItemDone   Stage = "ITEM_DONE"
)

// Event captures a single milestone of a pipeline run. Item fields
// are only meaningful on transition/item events for listing runs.
type Event struct {
	// RunID uniquely identifies one pipeline execution.
	RunID string
	// SourceID is the source being processed.
	SourceID int64
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// PipelineStage names the engine stage for transition events.
	PipelineStage string
	// ItemIndex/ItemTotal carry listing progress counters.
	ItemIndex int
	ItemTotal int
	// Outcome is the terminal item result for ITEM_DONE events.
	Outcome string
	// Dur captures stage or run latency.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageTransition:
		if e.PipelineStage == "" {
			return errors.New("transition requires pipeline stage")
		}
	case StageItemDone:
		if e.Outcome == "" {
			return errors.New("item done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

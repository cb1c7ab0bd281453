package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/finsight/newsengine/internal/progress"
)

func TestPrometheusSinkTracksRunsAndItems(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []progress.Event{
		{RunID: "r1", SourceID: 1, TS: now, Stage: progress.StageRunStart},
		{RunID: "r1", SourceID: 1, TS: now, Stage: progress.StageTransition, PipelineStage: "item_fetched", Dur: 800 * time.Millisecond},
		{RunID: "r1", SourceID: 1, TS: now, Stage: progress.StageItemDone, Outcome: "saved"},
		{RunID: "r1", SourceID: 1, TS: now, Stage: progress.StageItemDone, Outcome: "duplicate"},
		{RunID: "r1", SourceID: 1, TS: now, Stage: progress.StageRunDone, Dur: 12 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1, testutil.ToFloat64(sink.runsStarted), 0)
	require.InDelta(t, 0, testutil.ToFloat64(sink.runsRunning), 0)
	require.InDelta(t, 1, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(sink.itemOutcomes.WithLabelValues("saved")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(sink.itemOutcomes.WithLabelValues("duplicate")), 0)
}

func TestPrometheusSinkRunningGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r1", TS: now, Stage: progress.StageRunStart},
		{RunID: "r2", TS: now, Stage: progress.StageRunStart},
		{RunID: "r1", TS: now, Stage: progress.StageRunError, Note: "fetch failed"},
	}))

	require.InDelta(t, 1, testutil.ToFloat64(sink.runsRunning), 0)
	require.InDelta(t, 1, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")), 0)
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

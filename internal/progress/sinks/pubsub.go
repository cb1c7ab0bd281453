package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/finsight/newsengine/internal/progress"
)

// PubSubSink publishes progress events to a Pub/Sub topic so external
// dashboards can stream pipeline activity.
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// pubsubEvent is the wire shape published per event.
type pubsubEvent struct {
	RunID         string    `json:"run_id"`
	SourceID      int64     `json:"source_id"`
	TS            time.Time `json:"ts"`
	Stage         string    `json:"stage"`
	PipelineStage string    `json:"pipeline_stage,omitempty"`
	ItemIndex     int       `json:"item_index,omitempty"`
	ItemTotal     int       `json:"item_total,omitempty"`
	Outcome       string    `json:"outcome,omitempty"`
	DurMs         int64     `json:"dur_ms,omitempty"`
	Note          string    `json:"note,omitempty"`
}

// NewPubSubSink connects to the project and topic. The topic must
// already exist.
func NewPubSubSink(ctx context.Context, projectID, topicName string, logger *zap.Logger) (*PubSubSink, error) {
	if projectID == "" || topicName == "" {
		return nil, fmt.Errorf("pubsub project id and topic name are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &PubSubSink{
		client: client,
		topic:  client.Topic(topicName),
		logger: logger.Named("pubsub-sink"),
	}, nil
}

// Consume publishes each event in the batch; publishes are awaited so
// the hub's sink timeout applies.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	results := make([]*pubsub.PublishResult, 0, len(batch))
	for _, evt := range batch {
		data, err := json.Marshal(pubsubEvent{
			RunID:         evt.RunID,
			SourceID:      evt.SourceID,
			TS:            evt.TS,
			Stage:         string(evt.Stage),
			PipelineStage: evt.PipelineStage,
			ItemIndex:     evt.ItemIndex,
			ItemTotal:     evt.ItemTotal,
			Outcome:       evt.Outcome,
			DurMs:         evt.Dur.Milliseconds(),
			Note:          evt.Note,
		})
		if err != nil {
			s.logger.Warn("marshal progress event", zap.Error(err))
			continue
		}
		results = append(results, s.topic.Publish(ctx, &pubsub.Message{
			Data:       data,
			Attributes: map[string]string{"stage": string(evt.Stage)},
		}))
	}

	var firstErr error
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish progress event: %w", err)
		}
	}
	return firstErr
}

// Close stops the topic's publish goroutines and closes the client.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paperdesk/venue-engine/internal/model"
	"github.com/paperdesk/venue-engine/internal/retry"
)

// StreamMirror forwards bus envelopes onto Redis Streams for out-of-process
// consumers. Writes are best-effort with linear-backoff retries; a mirror
// failure is logged and skipped so it can never stall the in-process
// pipeline.
type StreamMirror struct {
	rdb      *redis.Client
	prefix   string
	attempts int
	backoff  time.Duration
	maxLen   int64
}

// NewStreamMirror creates a mirror writing to streams named
// "<prefix>:<topic>".
func NewStreamMirror(rdb *redis.Client, prefix string) *StreamMirror {
	return &StreamMirror{
		rdb:      rdb,
		prefix:   prefix,
		attempts: 3,
		backoff:  50 * time.Millisecond,
		maxLen:   10_000,
	}
}

// Handler returns a subscription handler that mirrors every envelope of
// the topic onto its Redis stream.
func (m *StreamMirror) Handler(ctx context.Context, topic string) func(model.Envelope) {
	stream := m.prefix + ":" + topic
	return func(env model.Envelope) {
		payload, err := json.Marshal(env)
		if err != nil {
			slog.Error("stream mirror encode failed", "topic", topic, "err", err)
			return
		}
		err = retry.Do(ctx, m.attempts, m.backoff, func() error {
			return m.rdb.XAdd(ctx, &redis.XAddArgs{
				Stream: stream,
				MaxLen: m.maxLen,
				Approx: true,
				Values: map[string]interface{}{
					"schema_version": env.SchemaVersion,
					"type":           string(env.Type),
					"partition_key":  env.PartitionKey,
					"payload":        payload,
				},
			}).Err()
		})
		if err != nil {
			slog.Warn("stream mirror write failed, event skipped",
				"topic", topic, "seq", env.Seq, "err", err)
		}
	}
}

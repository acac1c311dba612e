package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"analysis-pipeline/internal/pipeline"
)

// StreamSink appends events to a Redis stream, trimmed to roughly MaxLen.
type StreamSink struct {
	rdb    *redis.Client
	key    string
	maxLen int64
}

func NewStreamSink(rdb *redis.Client, key string, maxLen int64) *StreamSink {
	if maxLen <= 0 {
		maxLen = 100_000
	}
	return &StreamSink{rdb: rdb, key: key, maxLen: maxLen}
}

func (s *StreamSink) Write(ctx context.Context, batch []pipeline.Event) error {
	pipe := s.rdb.Pipeline()
	for _, e := range batch {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.key,
			MaxLen: s.maxLen,
			Approx: true,
			Values: streamValues(e),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd %s: %w", s.key, err)
	}
	return nil
}

func streamValues(e pipeline.Event) map[string]any {
	v := map[string]any{
		"job_id":      e.JobID.String(),
		"attempt":     e.Attempt,
		"stage":       string(e.Stage),
		"outcome":     e.Outcome,
		"duration_ms": e.Duration,
	}
	if len(e.Fields) > 0 {
		if raw, err := json.Marshal(e.Fields); err == nil {
			v["fields"] = string(raw)
		}
	}
	return v
}

// LogSink writes events as log lines. Used when no Redis stream is configured.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Write(ctx context.Context, batch []pipeline.Event) error {
	for _, e := range batch {
		s.log.Info().
			Str("job_id", e.JobID.String()).
			Int("attempt", e.Attempt).
			Str("stage", string(e.Stage)).
			Str("outcome", e.Outcome).
			Int64("duration_ms", e.Duration).
			Fields(e.Fields).
			Msg("stage event")
	}
	return nil
}

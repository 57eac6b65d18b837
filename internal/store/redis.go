package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/pkg/metrics"
	"github.com/Ramsey-B/trellis/pkg/redis"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

const streamKeyPrefix = "trellis:updates:"

// RedisLog stores each room's updates in one Redis stream, appended with
// XADD and replayed with XRANGE.
type RedisLog struct {
	streams *redis.Streams
	logger  ectologger.Logger
}

func NewRedisLog(client *redis.Client, logger ectologger.Logger) *RedisLog {
	return &RedisLog{
		streams: redis.NewStreams(client),
		logger:  logger,
	}
}

func streamKey(roomID string) string {
	return streamKeyPrefix + roomID
}

func (l *RedisLog) GetDocument(ctx context.Context, roomID string) ([][]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "RedisLog.GetDocument")
	defer span.End()

	start := time.Now()

	entries, err := l.streams.Range(ctx, streamKey(roomID), "-", "+")
	if err != nil {
		l.logger.WithContext(ctx).WithError(err).WithField("room_id", roomID).Error("failed to load document updates")
		return nil, fmt.Errorf("failed to load document updates: %w", err)
	}

	updates := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		updates = append(updates, entry.Payload)
	}

	metrics.DocumentLoadDuration.WithLabelValues("redis").Observe(time.Since(start).Seconds())
	return updates, nil
}

func (l *RedisLog) AppendUpdate(ctx context.Context, roomID string, update []byte) error {
	ctx, span := tracing.StartSpan(ctx, "RedisLog.AppendUpdate")
	defer span.End()

	start := time.Now()

	if _, err := l.streams.Append(ctx, streamKey(roomID), update); err != nil {
		metrics.RecordUpdatePersist("redis", "error", time.Since(start).Seconds())
		return fmt.Errorf("failed to append document update: %w", err)
	}

	metrics.RecordUpdatePersist("redis", "success", time.Since(start).Seconds())
	return nil
}

func (l *RedisLog) ClearDocument(ctx context.Context, roomID string) error {
	ctx, span := tracing.StartSpan(ctx, "RedisLog.ClearDocument")
	defer span.End()

	if !IsEphemeral(roomID) {
		return ErrClearNotAllowed
	}

	if err := l.streams.Delete(ctx, streamKey(roomID)); err != nil {
		l.logger.WithContext(ctx).WithError(err).WithField("room_id", roomID).Error("failed to clear document updates")
		return fmt.Errorf("failed to clear document updates: %w", err)
	}

	l.logger.WithContext(ctx).WithField("room_id", roomID).Infof("Cleared updates for room %s", roomID)
	return nil
}

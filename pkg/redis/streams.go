package redis

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StreamEntry is a single binary payload read back from a stream.
type StreamEntry struct {
	ID      string
	Payload []byte
}

// Streams provides append-and-replay operations over Redis Streams. Payloads
// are opaque bytes, base64-encoded because stream field values are strings.
type Streams struct {
	client *Client
}

// NewStreams creates a new Streams instance
func NewStreams(client *Client) *Streams {
	return &Streams{client: client}
}

// Append adds a binary payload to the end of a stream
func (s *Streams) Append(ctx context.Context, stream string, payload []byte) (string, error) {
	result, err := s.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": base64.StdEncoding.EncodeToString(payload),
		},
	}).Result()

	if err != nil {
		s.client.logger.WithContext(ctx).WithError(err).Errorf("Failed to append to stream %s", stream)
		return "", err
	}

	return result, nil
}

// Range returns entries in a stream between start and end IDs. Use "-" and
// "+" to replay the whole stream in insertion order.
func (s *Streams) Range(ctx context.Context, stream, start, end string) ([]StreamEntry, error) {
	results, err := s.client.rdb.XRange(ctx, stream, start, end).Result()
	if err != nil {
		return nil, err
	}

	var entries []StreamEntry
	for _, msg := range results {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}

		payload, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			s.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to decode stream entry %s", msg.ID)
			continue
		}

		entries = append(entries, StreamEntry{
			ID:      msg.ID,
			Payload: payload,
		})
	}

	return entries, nil
}

// Len returns the length of a stream
func (s *Streams) Len(ctx context.Context, stream string) (int64, error) {
	return s.client.rdb.XLen(ctx, stream).Result()
}

// Trim trims a stream to approximately maxLen entries
func (s *Streams) Trim(ctx context.Context, stream string, maxLen int64) error {
	return s.client.rdb.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Err()
}

// Delete removes the stream keys entirely
func (s *Streams) Delete(ctx context.Context, streams ...string) error {
	if len(streams) == 0 {
		return nil
	}
	if err := s.client.rdb.Del(ctx, streams...).Err(); err != nil {
		return fmt.Errorf("failed to delete streams: %w", err)
	}
	return nil
}

// Package history pushes lobby event records onto a Redis queue for offline
// analysis. Recording is fire-and-forget: failures are logged and never
// surfaced to game traffic.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list the records are pushed to.
const DefaultQueueName = "trivia_lobby_events"

// Record is one lobby event as consumed by downstream tooling.
type Record struct {
	LobbyCode      string                 `json:"lobby_code"`
	EventType      string                 `json:"event_type"`
	ActorSessionID string                 `json:"actor_session_id,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
}

// Recorder accepts lobby event records.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

// Nop discards all records. Used when Redis is not configured.
type Nop struct{}

func (Nop) Record(context.Context, Record) {}

// RedisRecorder pushes records to a Redis list.
type RedisRecorder struct {
	rdb    *redis.Client
	queue  string
	logger *logrus.Logger
}

var _ Recorder = (*RedisRecorder)(nil)

// NewRedisRecorder connects a Redis client and verifies it with a ping.
func NewRedisRecorder(addr string, db int, queue string, logger *logrus.Logger) (*RedisRecorder, error) {
	if queue == "" {
		queue = DefaultQueueName
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("history: connect redis at %s: %w", addr, err)
	}
	return &RedisRecorder{rdb: rdb, queue: queue, logger: logger}, nil
}

// Record serializes the record and pushes it onto the queue.
func (r *RedisRecorder) Record(ctx context.Context, rec Record) {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		r.logger.WithError(err).Warn("history: marshal record")
		return
	}
	if err := r.rdb.RPush(ctx, r.queue, data).Err(); err != nil {
		r.logger.WithFields(logrus.Fields{
			"lobby": rec.LobbyCode,
			"event": rec.EventType,
		}).WithError(err).Warn("history: push record")
	}
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const syncStateTTL = 7 * 24 * time.Hour

func pullKey(kind string) string { return "sync:last_pull:" + kind }

// PullRecord describes the outcome of the most recent pull for one kind.
type PullRecord struct {
	At       time.Time `json:"at"`
	Err      string    `json:"err,omitempty"`
	Fetched  int       `json:"fetched"`
	Upserted int       `json:"upserted"`
	Skipped  int       `json:"skipped"`
}

// SyncState records the outcome of sync passes so the gateway can report
// staleness without touching the sync daemon.
type SyncState interface {
	RecordPull(ctx context.Context, kind string, rec PullRecord) error
	LastPull(ctx context.Context, kind string) (*PullRecord, error)
}

type syncState struct {
	client *redis.Client
}

// NewSyncState creates a Redis-backed SyncState.
func NewSyncState(client *redis.Client) SyncState {
	return &syncState{client: client}
}

func (s *syncState) RecordPull(ctx context.Context, kind string, rec PullRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal pull record: %w", err)
	}
	if err := s.client.Set(ctx, pullKey(kind), data, syncStateTTL).Err(); err != nil {
		return fmt.Errorf("redis record pull for %s: %w", kind, err)
	}
	return nil
}

// LastPull returns nil when no pull has been recorded for the kind yet.
func (s *syncState) LastPull(ctx context.Context, kind string) (*PullRecord, error) {
	data, err := s.client.Get(ctx, pullKey(kind)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis last pull for %s: %w", kind, err)
	}
	var rec PullRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal pull record: %w", err)
	}
	return &rec, nil
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"educards-match/internal/domain"
)

// EventPublisher publishes match snapshots on match:{id}:events.
type EventPublisher struct {
	client *redis.Client
}

func NewEventPublisher(client *redis.Client) *EventPublisher {
	return &EventPublisher{client: client}
}

func (p *EventPublisher) Publish(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return p.client.Publish(ctx, EventsChannel(snap.MatchID), data).Err()
}

// EventsChannel is the pub/sub channel of one match.
func EventsChannel(matchID string) string {
	return "match:" + matchID + ":events"
}

package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"educards-match/internal/domain"
)

const (
	maxReconnects = -1
	reconnectWait = 2 * time.Second
)

// Connect dials NATS with the reconnect policy used by the service.
func Connect(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("educards-match"),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// EventPublisher publishes match snapshots on match.{id}.{state}.
type EventPublisher struct {
	conn *nats.Conn
}

func NewEventPublisher(conn *nats.Conn) *EventPublisher {
	return &EventPublisher{conn: conn}
}

func (p *EventPublisher) Publish(_ context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return p.conn.Publish(Subject(snap.MatchID, snap.State), data)
}

// Subject is the NATS subject of one match state change. Subscribe to match.{id}.>
// for the whole match.
func Subject(matchID string, state domain.MatchState) string {
	return "match." + matchID + "." + string(state)
}

package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"educards-match/internal/domain"
)

func TestEventPublisherPublishesSnapshots(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	ctx := context.Background()

	sub := client.Subscribe(ctx, EventsChannel("m1"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	publisher := NewEventPublisher(client)
	if err := publisher.Publish(ctx, domain.Snapshot{MatchID: "m1", State: domain.StateQuestionOpen, Version: 3}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var snap domain.Snapshot
		if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if snap.State != domain.StateQuestionOpen || snap.Version != 3 {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
	}
}

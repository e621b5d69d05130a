package messaging

import (
	"context"
	"testing"
	"time"

	"ballotbox/contexts/governance/voting-session/ports"
)

func TestPublishFansOutToEveryConsumerGroup(t *testing.T) {
	bus, err := NewKafka([]string{"localhost:9092"}, nil)
	if err != nil {
		t.Fatalf("new kafka: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan string, 4)
	for _, group := range []string{"group-a", "group-b"} {
		group := group
		if err := bus.Subscribe(ctx, "voting.session.closed", group, func(_ context.Context, event ports.EventEnvelope) error {
			received <- group + ":" + event.EventID
			return nil
		}); err != nil {
			t.Fatalf("subscribe %s: %v", group, err)
		}
	}

	if err := bus.Publish(ctx, "voting.session.closed", ports.EventEnvelope{EventID: "evt-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(ctx, "voting.vote.cast", ports.EventEnvelope{EventID: "evt-2"}); err != nil {
		t.Fatalf("publish other topic: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case item := <-received:
			seen[item] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery, got %v", seen)
		}
	}
	if !seen["group-a:evt-1"] || !seen["group-b:evt-1"] {
		t.Fatalf("expected both groups to receive evt-1, got %v", seen)
	}
	select {
	case item := <-received:
		t.Fatalf("unexpected delivery %s", item)
	case <-time.After(50 * time.Millisecond):
	}
}

package redisnotify

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/justapithecus/cascadewatch/notify"
)

func TestPublishDeliversToChannel(t *testing.T) {
	srv := miniredis.RunT(t)

	adapter := New(Config{Addr: srv.Addr()})
	defer adapter.Close()

	sub := adapter.client.Subscribe(context.Background(), DefaultChannel)
	defer sub.Close()
	// Drain the subscribe confirmation message.
	if _, err := sub.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := adapter.Publish(context.Background(), &notify.RunCompletedEvent{RunID: "run_1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg, err := sub.ReceiveMessage(context.Background())
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if msg.Channel != DefaultChannel {
		t.Fatalf("expected channel %q, got %q", DefaultChannel, msg.Channel)
	}
}

func TestDefaultChannelUsedWhenUnset(t *testing.T) {
	adapter := New(Config{Addr: "localhost:0"})
	if adapter.config.Channel != DefaultChannel {
		t.Fatalf("expected default channel %q, got %q", DefaultChannel, adapter.config.Channel)
	}
}

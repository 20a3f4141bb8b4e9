package relay

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/wire"
)

// testRelays builds two relay nodes on one shared redis, the way two
// gateway instances would see each other in production.
func testRelays(t *testing.T) (publisher, subscriber *Relay) {
	t.Helper()
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	newNode := func() *Relay {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		r := New(client, logger)
		t.Cleanup(r.Close)
		return r
	}
	return newNode(), newNode()
}

func TestRelay_PublishReachesOtherNode(t *testing.T) {
	pub, sub := testRelays(t)

	got := make(chan *wire.Envelope, 1)
	sub.SetHandler(func(server shared.ServerID, env *wire.Envelope) {
		if server == 3 {
			got <- env
		}
	})
	sub.Subscribe(3)

	// Give the receive loop a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	env, _ := wire.New(wire.TypeServerEdited, wire.ServerEdited{Invoker: &wire.Invoker{ID: 1}})
	if err := pub.Publish(context.Background(), 3, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case env := <-got:
		if env.T != wire.TypeServerEdited {
			t.Errorf("relayed type = %s", env.T)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never relayed")
	}
}

func TestRelay_OwnEventsFilteredOut(t *testing.T) {
	pub, _ := testRelays(t)

	got := make(chan *wire.Envelope, 1)
	pub.SetHandler(func(_ shared.ServerID, env *wire.Envelope) { got <- env })
	pub.Subscribe(3)
	time.Sleep(50 * time.Millisecond)

	env, _ := wire.New(wire.TypeServerEdited, wire.ServerEdited{})
	if err := pub.Publish(context.Background(), 3, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-got:
		t.Error("node received its own event back")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRelay_UnsubscribeStopsDelivery(t *testing.T) {
	pub, sub := testRelays(t)

	got := make(chan *wire.Envelope, 4)
	sub.SetHandler(func(_ shared.ServerID, env *wire.Envelope) { got <- env })
	sub.Subscribe(5)
	time.Sleep(50 * time.Millisecond)

	sub.Unsubscribe(5)
	time.Sleep(50 * time.Millisecond)

	env, _ := wire.New(wire.TypeServerStop, wire.ServerStop{Message: "bye"})
	if err := pub.Publish(context.Background(), 5, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-got:
		t.Error("event delivered after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRelay_ServersAreIsolated(t *testing.T) {
	pub, sub := testRelays(t)

	got := make(chan shared.ServerID, 2)
	sub.SetHandler(func(server shared.ServerID, _ *wire.Envelope) { got <- server })
	sub.Subscribe(1)
	time.Sleep(50 * time.Millisecond)

	env, _ := wire.New(wire.TypeServerEdited, wire.ServerEdited{})
	pub.Publish(context.Background(), 2, env)
	pub.Publish(context.Background(), 1, env)

	select {
	case server := <-got:
		if server != 1 {
			t.Errorf("received event for server %d", server)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never relayed")
	}
}

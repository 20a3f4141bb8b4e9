package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/wire"
)

func TestPipe_RoundTrip(t *testing.T) {
	a, b := NewPipe(8)
	defer a.Close()

	env, _ := wire.New(wire.TypeTextMessage, wire.TextMessage{Token: "m1", Message: "hello"})
	if err := a.Send(context.Background(), env); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case got := <-b.Inbound():
		if got.T != wire.TypeTextMessage {
			t.Errorf("expected %s, got %s", wire.TypeTextMessage, got.T)
		}
	case <-time.After(time.Second):
		t.Fatal("message never arrived")
	}
}

func TestPipe_CloseStopsBothEnds(t *testing.T) {
	a, b := NewPipe(8)

	if err := a.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	env, _ := wire.New(wire.TypeDisconnect, nil)
	if err := b.Send(context.Background(), env); !errors.Is(err, shared.CodeConnectionLost) {
		t.Errorf("expected connection lost, got %v", err)
	}

	select {
	case _, ok := <-b.Inbound():
		if ok {
			t.Error("expected inbound channel to close")
		}
	case <-time.After(time.Second):
		t.Fatal("inbound channel never closed")
	}
}

func TestPipe_SendHonorsContext(t *testing.T) {
	a, _ := NewPipe(1)
	defer a.Close()

	// Nobody drains the far end, so the internal buffers fill and a send
	// must eventually respect its deadline instead of blocking forever.
	env, _ := wire.New(wire.TypeDisconnect, nil)
	for i := 0; i < 16; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		err := a.Send(ctx, env)
		cancel()
		if err == nil {
			continue
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
		return
	}
	t.Fatal("send never hit the deadline")
}

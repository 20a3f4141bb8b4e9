package audio

import (
	"io"
	"log/slog"
	"testing"

	"github.com/accordvoice/accord/internal/shared"
)

func testRouter() *Router {
	return NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func voiced() *Frame {
	return &Frame{Samples: []int16{0, 120, -340, 90}, SampleRate: 48000, Channels: 1}
}

func silence() *Frame {
	return &Frame{Samples: make([]int16, 4), SampleRate: 48000, Channels: 1}
}

func TestRouter_OnlyOwnerTransmits(t *testing.T) {
	r := testRouter()
	r.Acquire(1)

	if !r.Capture(1, voiced()) {
		t.Error("owner frame dropped")
	}
	if r.Capture(2, voiced()) {
		t.Error("non-owner frame transmitted")
	}

	r.Acquire(2)
	if r.Capture(1, voiced()) {
		t.Error("old owner still transmitting")
	}
	if !r.Capture(2, voiced()) {
		t.Error("new owner frame dropped")
	}
}

func TestRouter_TalkStatusFollowsActivity(t *testing.T) {
	r := testRouter()

	type edge struct {
		conn    shared.ConnectionID
		talking bool
	}
	var edges []edge
	r.SetTalkHandler(func(conn shared.ConnectionID, talking bool) {
		edges = append(edges, edge{conn, talking})
	})

	r.Acquire(1)
	r.Capture(1, voiced())
	r.Capture(1, voiced()) // no duplicate edge
	r.Capture(1, silence())

	want := []edge{{1, true}, {1, false}}
	if len(edges) != len(want) {
		t.Fatalf("edges = %+v", edges)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Errorf("edge %d = %+v, want %+v", i, edges[i], want[i])
		}
	}
}

func TestRouter_MuteSilences(t *testing.T) {
	r := testRouter()
	r.Acquire(1)
	r.Capture(1, voiced())

	r.SetMuted(1, true)
	if r.Capture(1, voiced()) {
		t.Error("muted frame transmitted")
	}
	if r.Talking(1) {
		t.Error("talk status stuck after mute")
	}

	r.SetMuted(1, false)
	if !r.Capture(1, voiced()) {
		t.Error("unmuted frame dropped")
	}
}

func TestRouter_Hooks(t *testing.T) {
	r := testRouter()
	r.Acquire(1)

	r.SetPreProcessHook(func(_ shared.ConnectionID, frame *Frame) {
		for i := range frame.Samples {
			frame.Samples[i] = 0x11
		}
	})
	frame := voiced()
	r.Capture(1, frame)
	if frame.Samples[0] != 0x11 {
		t.Error("pre-process hook skipped")
	}

	seen := false
	r.SetPostProcessHook(func(_ shared.ConnectionID, source shared.ClientID, _ *Frame) {
		seen = source == 7
	})
	if !r.Playback(1, 7, 3, voiced()) {
		t.Error("playback frame dropped")
	}
	if !seen {
		t.Error("post-process hook skipped")
	}

	// Own echo never reaches playback.
	if r.Playback(1, 3, 3, voiced()) {
		t.Error("echo frame played back")
	}
}

func TestRouter_ForgetClearsState(t *testing.T) {
	r := testRouter()
	r.Acquire(1)
	r.SetMuted(1, true)
	r.Capture(1, voiced())

	r.Forget(1)
	if r.Owner() != 0 {
		t.Error("ownership survived forget")
	}
	if r.Muted(1) || r.Talking(1) {
		t.Error("per-connection state survived forget")
	}
}

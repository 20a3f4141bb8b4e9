package audio

import (
	"log/slog"
	"sync"

	"github.com/accordvoice/accord/internal/shared"
)

// Frame is one block of raw PCM samples captured from or headed to a
// device.
type Frame struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// PreProcessHook sees captured frames before they leave the machine;
// PostProcessHook sees received frames before playback. Hooks mutate the
// samples in place.
type (
	PreProcessHook  func(conn shared.ConnectionID, frame *Frame)
	PostProcessHook func(conn shared.ConnectionID, source shared.ClientID, frame *Frame)
)

// Router decides which connection owns the capture device and pushes
// frames through the processing hooks. There is no mixing or DSP here,
// only ownership and routing.
type Router struct {
	mu      sync.RWMutex
	owner   shared.ConnectionID
	muted   map[shared.ConnectionID]bool
	talking map[shared.ConnectionID]bool
	pre     PreProcessHook
	post    PostProcessHook
	onTalk  func(conn shared.ConnectionID, talking bool)
	logger  *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		muted:   make(map[shared.ConnectionID]bool),
		talking: make(map[shared.ConnectionID]bool),
		logger:  logger.With("component", "audio"),
	}
}

func (r *Router) SetPreProcessHook(hook PreProcessHook)   { r.mu.Lock(); r.pre = hook; r.mu.Unlock() }
func (r *Router) SetPostProcessHook(hook PostProcessHook) { r.mu.Lock(); r.post = hook; r.mu.Unlock() }

// SetTalkHandler registers the callback fired on talk-status edges.
func (r *Router) SetTalkHandler(fn func(conn shared.ConnectionID, talking bool)) {
	r.mu.Lock()
	r.onTalk = fn
	r.mu.Unlock()
}

// Acquire gives a connection the capture device. The previous owner, if
// any, loses it and its talk status drops.
func (r *Router) Acquire(conn shared.ConnectionID) {
	r.mu.Lock()
	prev := r.owner
	r.owner = conn
	r.mu.Unlock()

	if prev != 0 && prev != conn {
		r.setTalking(prev, false)
		r.logger.Info("capture ownership moved", "from", prev, "to", conn)
	}
}

// Release drops capture ownership if the connection still holds it.
func (r *Router) Release(conn shared.ConnectionID) {
	r.mu.Lock()
	owned := r.owner == conn
	if owned {
		r.owner = 0
	}
	r.mu.Unlock()

	if owned {
		r.setTalking(conn, false)
	}
}

func (r *Router) Owner() shared.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// SetMuted silences a connection's capture without releasing the device.
func (r *Router) SetMuted(conn shared.ConnectionID, muted bool) {
	r.mu.Lock()
	r.muted[conn] = muted
	r.mu.Unlock()

	if muted {
		r.setTalking(conn, false)
	}
}

func (r *Router) Muted(conn shared.ConnectionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.muted[conn]
}

// Capture routes one captured frame for a connection. It reports whether
// the frame should be transmitted: only the capture owner transmits, and
// muted connections never do. The pre-process hook runs on transmitted
// frames; talk status follows frame activity.
func (r *Router) Capture(conn shared.ConnectionID, frame *Frame) bool {
	r.mu.RLock()
	owner := r.owner
	muted := r.muted[conn]
	pre := r.pre
	r.mu.RUnlock()

	if owner != conn || muted {
		return false
	}

	active := frameActive(frame)
	r.setTalking(conn, active)
	if !active {
		return false
	}

	if pre != nil {
		pre(conn, frame)
	}
	return true
}

// Playback runs the post-process hook over a received frame. Frames from
// the connection's own echo are dropped.
func (r *Router) Playback(conn shared.ConnectionID, source shared.ClientID, self shared.ClientID, frame *Frame) bool {
	if source == self {
		return false
	}

	r.mu.RLock()
	post := r.post
	r.mu.RUnlock()

	if post != nil {
		post(conn, source, frame)
	}
	return true
}

func (r *Router) Talking(conn shared.ConnectionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.talking[conn]
}

// Forget clears all per-connection state, for handler destruction.
func (r *Router) Forget(conn shared.ConnectionID) {
	r.Release(conn)
	r.mu.Lock()
	delete(r.muted, conn)
	delete(r.talking, conn)
	r.mu.Unlock()
}

func (r *Router) setTalking(conn shared.ConnectionID, talking bool) {
	r.mu.Lock()
	changed := r.talking[conn] != talking
	if changed {
		r.talking[conn] = talking
	}
	onTalk := r.onTalk
	r.mu.Unlock()

	if changed && onTalk != nil {
		onTalk(conn, talking)
	}
}

// frameActive reports whether a frame carries any signal. Silence keeps
// talk status down without a VAD stage.
func frameActive(frame *Frame) bool {
	if frame == nil {
		return false
	}
	for _, s := range frame.Samples {
		if s != 0 {
			return true
		}
	}
	return false
}

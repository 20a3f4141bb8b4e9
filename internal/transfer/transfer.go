package transfer

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/accordvoice/accord/internal/bandwidth"
	"github.com/accordvoice/accord/internal/shared"
)

// State tracks a transfer through its lifecycle. Terminal states keep the
// record queryable until the owner releases the ID.
type State int

const (
	StateQueued State = iota
	StateRunning
	StatePaused
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transfer is one upload or download. The manager owns the data pump; the
// accessors here are safe to call from any goroutine.
type Transfer struct {
	mu sync.Mutex

	id        shared.TransferID
	key       string
	channel   shared.ChannelID
	dir       string
	name      string
	localPath string
	upload    bool
	overwrite bool
	resume    bool

	state State
	code  shared.Code
	size  uint64
	done  uint64

	limit  *bandwidth.Limiter
	tiered *bandwidth.Tiered

	file   *os.File
	ctx    context.Context
	stop   context.CancelFunc
	paused bool
	wake   chan struct{}

	started     time.Time
	windowStart time.Time
	windowBytes uint64
	speed       float64
}

func (t *Transfer) ID() shared.TransferID     { return t.id }
func (t *Transfer) Channel() shared.ChannelID { return t.channel }
func (t *Transfer) Path() string              { return t.dir }
func (t *Transfer) Name() string              { return t.name }
func (t *Transfer) LocalPath() string         { return t.localPath }
func (t *Transfer) IsUpload() bool            { return t.upload }
func (t *Transfer) Overwrite() bool           { return t.overwrite }
func (t *Transfer) Resume() bool              { return t.resume }

// Key returns the server-assigned data-plane key, empty until the
// transfer is accepted.
func (t *Transfer) Key() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.key
}

func (t *Transfer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Result reports the terminal code once the transfer finished.
func (t *Transfer) Result() shared.Code {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.code
}

func (t *Transfer) Size() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

func (t *Transfer) Done() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// CurrentSpeed reports bytes per second over the most recent window;
// AverageSpeed over the whole run.
func (t *Transfer) CurrentSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speed
}

func (t *Transfer) AverageSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.IsZero() {
		return 0
	}
	elapsed := time.Since(t.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.done) / elapsed
}

func (t *Transfer) RunTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.IsZero() {
		return 0
	}
	return time.Since(t.started)
}

// SpeedLimit returns this transfer's own cap in bytes per second.
func (t *Transfer) SpeedLimit() uint64 {
	return t.limit.Limit()
}

// SetSpeedLimit adjusts the per-transfer cap while the transfer runs.
// Values below the floor are raised to it; zero lifts the cap.
func (t *Transfer) SetSpeedLimit(bytesPerSecond uint64) {
	t.limit.SetLimit(bytesPerSecond)
}

// SetPaused gates the data pump. Pausing mid-chunk takes effect at the
// next chunk boundary.
func (t *Transfer) SetPaused(paused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning && t.state != StatePaused {
		return
	}
	if t.paused == paused {
		return
	}
	t.paused = paused
	if paused {
		t.state = StatePaused
	} else {
		t.state = StateRunning
		close(t.wake)
		t.wake = make(chan struct{})
	}
}

func (t *Transfer) record(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done += uint64(n)
	now := time.Now()
	if t.windowStart.IsZero() {
		t.windowStart = now
	}
	t.windowBytes += uint64(n)
	if elapsed := now.Sub(t.windowStart); elapsed >= time.Second {
		t.speed = float64(t.windowBytes) / elapsed.Seconds()
		t.windowStart = now
		t.windowBytes = 0
	}
}

// waitIfPaused blocks while the transfer is paused. It reports false when
// the transfer was cancelled instead of resumed.
func (t *Transfer) waitIfPaused() bool {
	for {
		t.mu.Lock()
		if !t.paused {
			t.mu.Unlock()
			return true
		}
		wake := t.wake
		t.mu.Unlock()
		select {
		case <-wake:
		case <-t.ctx.Done():
			return false
		}
	}
}

func (t *Transfer) finish(state State, code shared.Code) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateCompleted || t.state == StateFailed {
		return false
	}
	t.state = state
	t.code = code
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
	t.stop()
	return true
}

package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/accordvoice/accord/internal/bandwidth"
	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/wire"
)

type captureSender struct {
	mu   sync.Mutex
	data []byte
	done bool
}

func (c *captureSender) send(_ context.Context, env *wire.Envelope) error {
	var d wire.FTData
	if err := env.Decode(&d); err != nil {
		return err
	}
	c.mu.Lock()
	c.data = append(c.data, d.Data...)
	if d.Done {
		c.done = true
	}
	c.mu.Unlock()
	return nil
}

func testManager(send Sender, notify Notify) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(
		bandwidth.NewLimiter(bandwidth.Unlimited),
		bandwidth.NewLimiter(bandwidth.Unlimited),
		bandwidth.NewLimiter(bandwidth.Unlimited),
		bandwidth.NewLimiter(bandwidth.Unlimited),
		send, notify, logger,
	)
}

func waitState(t *testing.T, tr *Transfer, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if tr.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("transfer stuck in %s, wanted %s", tr.State(), want)
}

func TestManager_UploadStreamsWholeFile(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, chunkSize*2+100)
	for i := range content {
		content[i] = byte(i % 251)
	}
	if err := os.WriteFile(filepath.Join(dir, "up.bin"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	var finished shared.Code = 999
	sink := &captureSender{}
	m := testManager(sink.send, func(_ shared.TransferID, code shared.Code) { finished = code })

	tr, err := m.CreateUpload(9, "/", "up.bin", dir, true, false)
	if err != nil {
		t.Fatalf("create upload: %v", err)
	}
	if tr.State() != StateQueued || tr.Size() != uint64(len(content)) {
		t.Fatalf("queued transfer wrong: %s size=%d", tr.State(), tr.Size())
	}

	if err := m.Begin(tr.ID(), "k1", 0, 0); err != nil {
		t.Fatalf("begin: %v", err)
	}
	waitState(t, tr, StateCompleted)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if !sink.done {
		t.Error("done flag never sent")
	}
	if string(sink.data) != string(content) {
		t.Errorf("streamed %d bytes, want %d", len(sink.data), len(content))
	}
	if finished != shared.CodeOK {
		t.Errorf("finished code = %v", finished)
	}
}

func TestManager_UploadResumesFromOffset(t *testing.T) {
	dir := t.TempDir()
	content := []byte("0123456789abcdef")
	os.WriteFile(filepath.Join(dir, "up.bin"), content, 0o644)

	sink := &captureSender{}
	m := testManager(sink.send, nil)

	tr, err := m.CreateUpload(1, "/", "up.bin", dir, false, true)
	if err != nil {
		t.Fatalf("create upload: %v", err)
	}
	if err := m.Begin(tr.ID(), "k1", 10, 0); err != nil {
		t.Fatalf("begin: %v", err)
	}
	waitState(t, tr, StateCompleted)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if string(sink.data) != "abcdef" {
		t.Errorf("resumed stream = %q", sink.data)
	}
}

func TestManager_DownloadWritesAndCompletes(t *testing.T) {
	dir := t.TempDir()
	m := testManager(nil, nil)

	tr, err := m.CreateDownload(2, "/", "down.bin", dir, true, false)
	if err != nil {
		t.Fatalf("create download: %v", err)
	}
	if err := m.Begin(tr.ID(), "k2", 0, 10); err != nil {
		t.Fatalf("begin: %v", err)
	}

	m.Feed("k2", []byte("01234"), false)
	m.Feed("k2", []byte("56789"), true)
	waitState(t, tr, StateCompleted)

	data, err := os.ReadFile(filepath.Join(dir, "down.bin"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "0123456789" {
		t.Errorf("content = %q", data)
	}
	if tr.Done() != 10 {
		t.Errorf("done = %d", tr.Done())
	}
}

func TestManager_DownloadRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644)

	m := testManager(nil, nil)
	if _, err := m.CreateDownload(1, "/", "f.txt", dir, false, false); !errors.Is(err, shared.CodeFileAlreadyExists) {
		t.Errorf("expected already exists, got %v", err)
	}
}

func TestManager_HaltInvalidatesAndDeletes(t *testing.T) {
	dir := t.TempDir()
	var code shared.Code
	m := testManager(nil, func(_ shared.TransferID, c shared.Code) { code = c })

	tr, _ := m.CreateDownload(2, "/", "down.bin", dir, true, false)
	m.Begin(tr.ID(), "k3", 0, 100)
	m.Feed("k3", []byte("partial"), false)

	if err := m.Halt(tr.ID(), true); err != nil {
		t.Fatalf("halt: %v", err)
	}
	if tr.State() != StateFailed || tr.Result() != shared.CodeTransferHalted {
		t.Errorf("state=%s code=%v", tr.State(), tr.Result())
	}
	if code != shared.CodeTransferHalted {
		t.Errorf("notify code = %v", code)
	}
	if _, err := os.Stat(filepath.Join(dir, "down.bin")); !errors.Is(err, os.ErrNotExist) {
		t.Error("local file survived halt with delete")
	}

	// Data after halt is discarded.
	m.Feed("k3", []byte("late"), true)
	if tr.State() != StateFailed {
		t.Error("late data revived the transfer")
	}
}

func TestManager_ReleaseFreesID(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644)
	m := testManager((&captureSender{}).send, nil)

	tr, _ := m.CreateUpload(1, "/", "f.txt", dir, true, false)
	id := tr.ID()

	if err := m.Release(id); !errors.Is(err, shared.CodeInvalidArgument) {
		t.Errorf("releasing a live transfer: %v", err)
	}

	m.Begin(id, "k", 0, 0)
	waitState(t, tr, StateCompleted)

	if err := m.Release(id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := m.Get(id); !errors.Is(err, shared.CodeTransferNotFound) {
		t.Errorf("released ID still resolves: %v", err)
	}
}

func TestManager_PauseGatesPump(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, chunkSize*4)
	os.WriteFile(filepath.Join(dir, "f.bin"), content, 0o644)

	block := make(chan struct{})
	var once sync.Once
	sink := &captureSender{}
	m := testManager(func(ctx context.Context, env *wire.Envelope) error {
		once.Do(func() { <-block })
		return sink.send(ctx, env)
	}, nil)

	tr, _ := m.CreateUpload(1, "/", "f.bin", dir, true, false)
	m.Begin(tr.ID(), "k", 0, 0)
	tr.SetPaused(true)
	close(block)

	waitState(t, tr, StatePaused)
	time.Sleep(30 * time.Millisecond)
	sink.mu.Lock()
	sent := len(sink.data)
	sink.mu.Unlock()
	if sent > chunkSize {
		t.Fatalf("pump kept going while paused: %d bytes", sent)
	}

	tr.SetPaused(false)
	waitState(t, tr, StateCompleted)
}

func TestManager_FailAllOnDisconnect(t *testing.T) {
	dir := t.TempDir()
	m := testManager(nil, nil)

	a, _ := m.CreateDownload(1, "/", "a.bin", dir, true, false)
	b, _ := m.CreateDownload(1, "/", "b.bin", dir, true, false)
	m.Begin(a.ID(), "ka", 0, 100)

	m.FailAll(shared.CodeConnectionLost)

	if a.State() != StateFailed || a.Result() != shared.CodeConnectionLost {
		t.Errorf("a: %s %v", a.State(), a.Result())
	}
	if b.State() != StateFailed {
		t.Errorf("b: %s", b.State())
	}
}

package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/accordvoice/accord/internal/bandwidth"
	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/wire"
)

// chunkSize stays below the bandwidth floor so a single chunk never
// exceeds the burst of any bounded limiter.
const chunkSize = 4096

// Sender pushes a data envelope toward the server.
type Sender func(ctx context.Context, env *wire.Envelope) error

// Notify reports a transfer reaching a terminal state.
type Notify func(id shared.TransferID, code shared.Code)

// Manager owns every transfer of one connection: ID assignment, the data
// pumps, and the three bandwidth tiers. Limits apply as the minimum of
// the connection-wide limiter, the per-server limiter and each transfer's
// own limiter, with uploads and downloads throttled by their own
// direction pair.
type Manager struct {
	mu        sync.Mutex
	transfers map[shared.TransferID]*Transfer
	byKey     map[string]*Transfer
	nextID    shared.TransferID

	instanceUp   *bandwidth.Limiter
	instanceDown *bandwidth.Limiter
	serverUp     *bandwidth.Limiter
	serverDown   *bandwidth.Limiter
	send         Sender
	notify       Notify
	logger       *slog.Logger
}

func NewManager(instanceUp, instanceDown, serverUp, serverDown *bandwidth.Limiter, send Sender, notify Notify, logger *slog.Logger) *Manager {
	return &Manager{
		transfers:    make(map[shared.TransferID]*Transfer),
		byKey:        make(map[string]*Transfer),
		nextID:       1,
		instanceUp:   instanceUp,
		instanceDown: instanceDown,
		serverUp:     serverUp,
		serverDown:   serverDown,
		send:         send,
		notify:       notify,
		logger:       logger.With("component", "transfer"),
	}
}

func (m *Manager) newTransfer(channel shared.ChannelID, dir, name, localPath string, upload, overwrite, resume bool) *Transfer {
	ctx, stop := context.WithCancel(context.Background())
	t := &Transfer{
		channel:   channel,
		dir:       dir,
		name:      name,
		localPath: localPath,
		upload:    upload,
		overwrite: overwrite,
		resume:    resume,
		state:     StateQueued,
		limit:     bandwidth.NewLimiter(bandwidth.Unlimited),
		ctx:       ctx,
		stop:      stop,
		wake:      make(chan struct{}),
	}
	if upload {
		t.tiered = bandwidth.NewTiered(m.instanceUp, m.serverUp, t.limit)
	} else {
		t.tiered = bandwidth.NewTiered(m.instanceDown, m.serverDown, t.limit)
	}
	return t
}

// register assigns the next free 16-bit ID. IDs of finished transfers
// stay reserved until Release.
func (m *Manager) register(t *Transfer) {
	for {
		id := m.nextID
		m.nextID++
		if m.nextID == 0 {
			m.nextID = 1
		}
		if _, taken := m.transfers[id]; !taken {
			t.id = id
			m.transfers[id] = t
			return
		}
	}
}

// CreateUpload queues an upload of localDir/name into a channel's file
// area. The file must exist and be readable.
func (m *Manager) CreateUpload(channel shared.ChannelID, dir, name, localDir string, overwrite, resume bool) (*Transfer, error) {
	localPath := filepath.Join(localDir, name)
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, shared.CodeFileNotFound
	}
	if info.IsDir() {
		return nil, shared.CodeInvalidArgument
	}

	t := m.newTransfer(channel, dir, name, localPath, true, overwrite, resume)
	t.size = uint64(info.Size())

	m.mu.Lock()
	m.register(t)
	m.mu.Unlock()
	return t, nil
}

// CreateDownload queues a download into localDir/name.
func (m *Manager) CreateDownload(channel shared.ChannelID, dir, name, localDir string, overwrite, resume bool) (*Transfer, error) {
	localPath := filepath.Join(localDir, name)
	if !overwrite && !resume {
		if _, err := os.Stat(localPath); err == nil {
			return nil, shared.CodeFileAlreadyExists
		}
	}

	t := m.newTransfer(channel, dir, name, localPath, false, overwrite, resume)

	m.mu.Lock()
	m.register(t)
	m.mu.Unlock()
	return t, nil
}

// LocalPartialSize reports how much of a queued download already exists
// locally, for resume negotiation.
func (m *Manager) LocalPartialSize(id shared.TransferID) uint64 {
	t, err := m.Get(id)
	if err != nil || t.upload {
		return 0
	}
	info, err := os.Stat(t.localPath)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

// Begin moves a queued transfer to running once the server accepted it.
// key is the server-assigned data-plane key; offset is where the byte
// stream resumes; size is the remote size for downloads.
func (m *Manager) Begin(id shared.TransferID, key string, offset, size uint64) error {
	t, err := m.Get(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.state != StateQueued {
		t.mu.Unlock()
		return shared.CodeInvalidArgument
	}
	t.key = key
	t.done = offset
	t.started = time.Now()

	if t.upload {
		f, err := os.Open(t.localPath)
		if err != nil {
			t.mu.Unlock()
			m.fail(t, shared.CodeFileIO)
			return shared.CodeFileIO
		}
		if offset > 0 {
			if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
				f.Close()
				t.mu.Unlock()
				m.fail(t, shared.CodeFileIO)
				return shared.CodeFileIO
			}
		}
		t.file = f
	} else {
		t.size = size
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if offset > 0 {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		f, err := os.OpenFile(t.localPath, flags, 0o644)
		if err != nil {
			t.mu.Unlock()
			m.fail(t, shared.CodeFileIO)
			return shared.CodeFileIO
		}
		t.file = f
	}
	t.state = StateRunning
	t.mu.Unlock()

	m.mu.Lock()
	m.byKey[key] = t
	m.mu.Unlock()

	if t.upload {
		go m.pumpUpload(t)
	} else if t.done >= t.size {
		// Zero bytes left after resume: nothing will arrive.
		m.complete(t)
	}
	return nil
}

// pumpUpload streams the local file as data envelopes, throttled by the
// three bandwidth tiers.
func (m *Manager) pumpUpload(t *Transfer) {
	buf := make([]byte, chunkSize)
	for {
		if !t.waitIfPaused() {
			return
		}

		t.mu.Lock()
		f := t.file
		t.mu.Unlock()
		if f == nil {
			return
		}

		n, readErr := f.Read(buf)
		if n > 0 {
			if err := t.tiered.WaitN(t.ctx, n); err != nil {
				return
			}
			last := readErr == io.EOF
			env, err := wire.New(wire.TypeFTData, wire.FTData{
				Key:  t.key,
				Data: append([]byte(nil), buf[:n]...),
				Done: last,
			})
			if err != nil {
				m.fail(t, shared.CodeUndefined)
				return
			}
			if err := m.send(t.ctx, env); err != nil {
				m.fail(t, shared.CodeConnectionLost)
				return
			}
			t.record(n)
		}

		if readErr == io.EOF {
			if n == 0 {
				// The final chunk landed exactly on a boundary.
				env, err := wire.New(wire.TypeFTData, wire.FTData{Key: t.key, Done: true})
				if err == nil {
					_ = m.send(t.ctx, env)
				}
			}
			m.complete(t)
			return
		}
		if readErr != nil {
			m.fail(t, shared.CodeFileIO)
			return
		}
	}
}

// Feed delivers one inbound data envelope to its download.
func (m *Manager) Feed(key string, data []byte, done bool) {
	m.mu.Lock()
	t := m.byKey[key]
	m.mu.Unlock()
	if t == nil || t.upload {
		return
	}

	if len(data) > 0 {
		if err := t.tiered.WaitN(t.ctx, len(data)); err != nil {
			return
		}
		t.mu.Lock()
		f := t.file
		t.mu.Unlock()
		if f == nil {
			return
		}
		if _, err := f.Write(data); err != nil {
			m.fail(t, shared.CodeFileIO)
			return
		}
		t.record(len(data))
	}
	if done {
		m.complete(t)
	}
}

func (m *Manager) complete(t *Transfer) {
	if t.finish(StateCompleted, shared.CodeOK) {
		m.forgetKey(t)
		m.logger.Info("transfer completed", "id", t.id, "name", t.name, "bytes", t.Done())
		if m.notify != nil {
			m.notify(t.id, shared.CodeOK)
		}
	}
}

func (m *Manager) fail(t *Transfer, code shared.Code) {
	if t.finish(StateFailed, code) {
		m.forgetKey(t)
		m.logger.Warn("transfer failed", "id", t.id, "name", t.name, "code", uint16(code))
		if m.notify != nil {
			m.notify(t.id, code)
		}
	}
}

func (m *Manager) forgetKey(t *Transfer) {
	m.mu.Lock()
	if t.key != "" {
		delete(m.byKey, t.key)
	}
	m.mu.Unlock()
}

// StatusByKey applies a server status report to the transfer behind a
// data-plane key. Error codes fail the transfer; a success report on an
// upload confirms what the data plane already finished.
func (m *Manager) StatusByKey(key string, code shared.Code) {
	m.mu.Lock()
	t := m.byKey[key]
	m.mu.Unlock()
	if t == nil {
		return
	}
	if code != shared.CodeOK {
		m.fail(t, code)
		return
	}
	if t.upload {
		m.complete(t)
	}
}

// Fail marks a transfer failed from the outside, typically after an
// error reply from the server.
func (m *Manager) Fail(id shared.TransferID, code shared.Code) {
	if t, err := m.Get(id); err == nil {
		m.fail(t, code)
	}
}

// Halt aborts a transfer. When deleteLocal is set an unfinished download
// is removed from disk.
func (m *Manager) Halt(id shared.TransferID, deleteLocal bool) error {
	t, err := m.Get(id)
	if err != nil {
		return err
	}
	state := t.State()
	if state == StateCompleted || state == StateFailed {
		return shared.CodeTransferHalted
	}
	m.fail(t, shared.CodeTransferHalted)
	if deleteLocal && !t.upload {
		if err := os.Remove(t.localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return shared.CodeFileIO
		}
	}
	return nil
}

// Get resolves a transfer ID. Released and never-issued IDs fail the
// same way.
func (m *Manager) Get(id shared.TransferID) (*Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return nil, shared.CodeTransferNotFound
	}
	return t, nil
}

// Release frees a terminal transfer's ID for reuse. Running transfers
// cannot be released.
func (m *Manager) Release(id shared.TransferID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return shared.CodeTransferNotFound
	}
	state := t.State()
	if state != StateCompleted && state != StateFailed {
		return shared.CodeInvalidArgument
	}
	delete(m.transfers, id)
	return nil
}

// FailAll aborts every live transfer, used when the connection drops.
func (m *Manager) FailAll(code shared.Code) {
	m.mu.Lock()
	live := make([]*Transfer, 0, len(m.transfers))
	for _, t := range m.transfers {
		live = append(live, t)
	}
	m.mu.Unlock()
	for _, t := range live {
		m.fail(t, code)
	}
}

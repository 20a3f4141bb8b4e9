// Package client implements the connection side of the platform: each
// Connection mirrors one server's entity tree from the notification
// stream, correlates request outcomes by token, and surfaces everything
// to the application as ordered events.
package client

import (
	"log/slog"
	"sync"

	"github.com/accordvoice/accord/internal/audio"
	"github.com/accordvoice/accord/internal/bandwidth"
	"github.com/accordvoice/accord/internal/event"
	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/transport"
)

// Config describes one connection to spawn. Link and Identity are
// required; a nil Handler drops events.
type Config struct {
	Link           transport.Link
	Identity       string
	Nickname       string
	ServerPassword string
	DefaultChannel []string
	Handler        event.Handler
	Logger         *slog.Logger
}

// Library owns every connection of one process plus the shared scopes:
// the instance bandwidth limiters and the audio capture router.
type Library struct {
	mu          sync.Mutex
	connections map[shared.ConnectionID]*Connection
	nextID      shared.ConnectionID

	instanceUp   *bandwidth.Limiter
	instanceDown *bandwidth.Limiter
	audio        *audio.Router
	logger       *slog.Logger
}

func NewLibrary(logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Library{
		connections:  make(map[shared.ConnectionID]*Connection),
		nextID:       1,
		instanceUp:   bandwidth.NewLimiter(bandwidth.Unlimited),
		instanceDown: bandwidth.NewLimiter(bandwidth.Unlimited),
		audio:        audio.NewRouter(logger),
		logger:       logger.With("component", "client_library"),
	}
	l.audio.SetTalkHandler(l.onTalkEdge)
	return l
}

// Spawn creates a connection handler in the Disconnected state. Start
// attaches it to the server.
func (l *Library) Spawn(cfg Config) (*Connection, error) {
	if cfg.Link == nil || cfg.Identity == "" {
		return nil, shared.CodeInvalidArgument
	}
	if cfg.Logger == nil {
		cfg.Logger = l.logger
	}

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.mu.Unlock()

	c := newConnection(l, id, cfg)

	l.mu.Lock()
	l.connections[id] = c
	l.mu.Unlock()
	return c, nil
}

func (l *Library) Connection(id shared.ConnectionID) (*Connection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.connections[id]
	if !ok {
		return nil, shared.CodeNotFound
	}
	return c, nil
}

func (l *Library) remove(id shared.ConnectionID) {
	l.mu.Lock()
	delete(l.connections, id)
	l.mu.Unlock()
	l.audio.Forget(id)
}

// Audio exposes the capture router shared by every connection.
func (l *Library) Audio() *audio.Router {
	return l.audio
}

// onTalkEdge forwards local talk-status transitions of the capture owner
// to its server.
func (l *Library) onTalkEdge(id shared.ConnectionID, talking bool) {
	c, err := l.Connection(id)
	if err != nil {
		return
	}
	c.SetTalking(talking)
}

// SetInstanceUploadLimit caps outbound transfer throughput across every
// connection. Zero lifts the cap.
func (l *Library) SetInstanceUploadLimit(bytesPerSecond uint64) {
	l.instanceUp.SetLimit(bytesPerSecond)
}

func (l *Library) InstanceUploadLimit() uint64 {
	return l.instanceUp.Limit()
}

func (l *Library) SetInstanceDownloadLimit(bytesPerSecond uint64) {
	l.instanceDown.SetLimit(bytesPerSecond)
}

func (l *Library) InstanceDownloadLimit() uint64 {
	return l.instanceDown.Limit()
}

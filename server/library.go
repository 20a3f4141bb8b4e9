// Package server implements the authoritative side of the platform: it
// owns the canonical entity tree, gates every mutating action through the
// permission hook, and fans notifications out to attached sessions
// according to their channel subscriptions.
package server

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/accordvoice/accord/internal/auth"
	"github.com/accordvoice/accord/internal/bandwidth"
	"github.com/accordvoice/accord/internal/permission"
	"github.com/accordvoice/accord/internal/persist"
	"github.com/accordvoice/accord/internal/property"
	"github.com/accordvoice/accord/internal/relay"
	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/storage"
	"github.com/accordvoice/accord/internal/wire"
)

// EncryptHook transforms a password before comparison, mirroring the
// client-side hook. Identity when nil.
type EncryptHook func(plain string) string

// Options configure a Library. Only Logger and StorageRoot are required
// for a functional server; everything else has a workable default.
type Options struct {
	Logger         *slog.Logger
	StorageRoot    string
	PermissionHook permission.Hook
	HookTimeout    time.Duration
	EncryptHook    EncryptHook
	PathRewrite    storage.RewriteHook
	AuthSecret     []byte
	Persist        *persist.Store
	Relay          *relay.Relay
}

// Library owns every virtual server of one process.
type Library struct {
	mu      sync.RWMutex
	servers map[shared.ServerID]*VirtualServer
	nextID  shared.ServerID

	instanceLimit *bandwidth.Limiter
	gate          *permission.Gate
	files         *storage.Store
	encrypt       EncryptHook
	issuer        *auth.Issuer
	persist       *persist.Store
	relay         *relay.Relay
	logger        *slog.Logger
}

func NewLibrary(opts Options) (*Library, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root := opts.StorageRoot
	if root == "" {
		root = "./files"
	}
	files, err := storage.NewStore(root, opts.PathRewrite, logger)
	if err != nil {
		return nil, fmt.Errorf("init file storage: %w", err)
	}
	encrypt := opts.EncryptHook
	if encrypt == nil {
		encrypt = func(plain string) string { return plain }
	}
	secret := opts.AuthSecret
	if len(secret) == 0 {
		secret = []byte(shared.NewID("as_"))
	}

	return &Library{
		servers:       make(map[shared.ServerID]*VirtualServer),
		nextID:        1,
		instanceLimit: bandwidth.NewLimiter(bandwidth.Unlimited),
		gate:          permission.NewGate(opts.PermissionHook, opts.HookTimeout, logger),
		files:         files,
		encrypt:       encrypt,
		issuer:        auth.NewIssuer(secret, 0),
		persist:       opts.Persist,
		relay:         opts.Relay,
		logger:        logger.With("component", "server_library"),
	}, nil
}

// CreateServer brings up a virtual server with one default channel.
func (l *Library) CreateServer(name string, maxClients int, password string) (*VirtualServer, error) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.mu.Unlock()

	vs := newVirtualServer(l, id, name, maxClients, password)

	if l.persist != nil {
		if err := l.restore(vs); err != nil {
			return nil, err
		}
	}
	if vs.defaultChannel() == 0 {
		if _, err := vs.createChannel(0, map[property.ChannelKey]property.Value{
			property.ChannelName:        property.String("Default Channel"),
			property.ChannelFlagDefault: property.Int(1),
		}); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	l.servers[id] = vs
	l.mu.Unlock()

	if l.relay != nil {
		l.relay.Subscribe(id)
	}
	l.logger.Info("virtual server created", "server_id", id, "name", name)
	return vs, nil
}

func (l *Library) restore(vs *VirtualServer) error {
	props, err := l.persist.LoadServer(vs.id)
	if err == nil {
		vs.props.Apply(props)
	} else if err != shared.ErrNotFound {
		return err
	}

	channels, err := l.persist.LoadChannels(vs.id)
	if err != nil {
		return err
	}
	for _, snap := range channels {
		vs.restoreChannel(snap.ID, snap.Parent, snap.Props)
	}
	return nil
}

func (l *Library) Server(id shared.ServerID) (*VirtualServer, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	vs, ok := l.servers[id]
	if !ok {
		return nil, shared.CodeNotFound
	}
	return vs, nil
}

// StopServer shuts one virtual server down, notifying every attached
// session before cutting its link.
func (l *Library) StopServer(id shared.ServerID, message string) error {
	l.mu.Lock()
	vs, ok := l.servers[id]
	if ok {
		delete(l.servers, id)
	}
	l.mu.Unlock()
	if !ok {
		return shared.CodeNotFound
	}

	if l.relay != nil {
		l.relay.Unsubscribe(id)
	}
	vs.stop(message)
	l.logger.Info("virtual server stopped", "server_id", id)
	return nil
}

// Shutdown stops every server.
func (l *Library) Shutdown(message string) {
	l.mu.Lock()
	servers := make([]*VirtualServer, 0, len(l.servers))
	for id, vs := range l.servers {
		servers = append(servers, vs)
		delete(l.servers, id)
	}
	l.mu.Unlock()

	for _, vs := range servers {
		vs.stop(message)
	}
}

// SetInstanceSpeedLimit caps outbound file-transfer throughput across
// every virtual server. Zero lifts the cap.
func (l *Library) SetInstanceSpeedLimit(bytesPerSecond uint64) {
	l.instanceLimit.SetLimit(bytesPerSecond)
}

func (l *Library) InstanceSpeedLimit() uint64 {
	return l.instanceLimit.Limit()
}

// HandleRelayed feeds an envelope relayed from another node into the
// matching virtual server. Relayed notifications go to every attached
// session; channel visibility was already evaluated on the node that
// owns the originating client.
func (l *Library) HandleRelayed(id shared.ServerID, env *wire.Envelope) {
	vs, err := l.Server(id)
	if err != nil {
		return
	}
	vs.eachSession(func(s *session) { s.send(env) })
}

// Stats reports how many virtual servers are up and how many clients
// are attached across them.
func (l *Library) Stats() (servers, clients int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, vs := range l.servers {
		servers++
		clients += vs.ClientCount()
	}
	return servers, clients
}

// Issuer exposes the token minter, for gateway middleware.
func (l *Library) Issuer() *auth.Issuer {
	return l.issuer
}

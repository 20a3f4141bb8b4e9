package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/wire"
)

const serverEventChannel = "accord:server:%d:events"

// Handler receives envelopes relayed from other nodes for one virtual
// server.
type Handler func(server shared.ServerID, env *wire.Envelope)

// frame tags each published envelope with the publishing node, so a
// node can drop its own events when they come back around.
type frame struct {
	Node string         `json:"node"`
	Env  *wire.Envelope `json:"env"`
}

type serverSub struct {
	cancel context.CancelFunc
}

// Relay fans server notifications out across nodes through redis
// pub/sub, so clients attached to different gateway instances see the
// same event stream.
type Relay struct {
	redis   *redis.Client
	nodeID  string
	logger  *slog.Logger
	handler Handler
	subs    map[shared.ServerID]*serverSub
	mu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

func New(redisClient *redis.Client, logger *slog.Logger) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		redis:  redisClient,
		nodeID: shared.NewID("node_"),
		logger: logger.With("component", "relay"),
		subs:   make(map[shared.ServerID]*serverSub),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *Relay) SetHandler(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

// Publish pushes one envelope onto a server's event channel.
func (r *Relay) Publish(ctx context.Context, server shared.ServerID, env *wire.Envelope) error {
	channel := fmt.Sprintf(serverEventChannel, server)
	data, err := json.Marshal(frame{Node: r.nodeID, Env: env})
	if err != nil {
		return fmt.Errorf("marshal relay event: %w", err)
	}

	if err := r.redis.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish relay event: %w", err)
	}

	r.logger.Debug("published relay event", "server_id", server, "type", env.T)
	return nil
}

// Subscribe starts relaying a server's events into the handler. Calling
// it twice for the same server is a no-op.
func (r *Relay) Subscribe(server shared.ServerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subs[server]; exists {
		return
	}

	ctx, cancel := context.WithCancel(r.ctx)
	r.subs[server] = &serverSub{cancel: cancel}

	go r.receiveLoop(ctx, server)
}

func (r *Relay) Unsubscribe(server shared.ServerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subs[server]; ok {
		sub.cancel()
		delete(r.subs, server)
		r.logger.Debug("unsubscribed from server events", "server_id", server)
	}
}

func (r *Relay) receiveLoop(ctx context.Context, server shared.ServerID) {
	channel := fmt.Sprintf(serverEventChannel, server)

	pubsub := r.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	defer func() {
		r.mu.Lock()
		delete(r.subs, server)
		r.mu.Unlock()
	}()

	r.logger.Info("subscribed to server events", "server_id", server, "channel", channel)

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("receive relay event", "error", err, "server_id", server)
			return
		}

		var f frame
		if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
			r.logger.Error("unmarshal relay event", "error", err, "server_id", server)
			continue
		}
		if f.Node == r.nodeID || f.Env == nil {
			continue
		}

		r.mu.RLock()
		handler := r.handler
		r.mu.RUnlock()
		if handler != nil {
			handler(server, f.Env)
		}
	}
}

// Close tears down every subscription.
func (r *Relay) Close() {
	r.cancel()
	r.mu.Lock()
	r.subs = make(map[shared.ServerID]*serverSub)
	r.mu.Unlock()
}

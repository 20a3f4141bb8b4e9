package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/accordvoice/accord/internal/audio"
	"github.com/accordvoice/accord/internal/bandwidth"
	"github.com/accordvoice/accord/internal/correlate"
	"github.com/accordvoice/accord/internal/entity"
	"github.com/accordvoice/accord/internal/event"
	"github.com/accordvoice/accord/internal/property"
	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/subscribe"
	"github.com/accordvoice/accord/internal/transfer"
	"github.com/accordvoice/accord/internal/transport"
	"github.com/accordvoice/accord/internal/wire"
)

const sendTimeout = 10 * time.Second

// Connection mirrors one server. Everything the application reads comes
// from the local entity store, which only the server's notification
// stream mutates; local writes are staged and flushed, never applied
// optimistically.
type Connection struct {
	id   shared.ConnectionID
	lib  *Library
	cfg  Config
	link transport.Link

	store      *entity.Store
	staged     *entity.Pending
	correlator *correlate.Correlator
	subs       *subscribe.Set
	transfers  *transfer.Manager
	events     *event.Dispatcher
	logger     *slog.Logger

	serverUp   *bandwidth.Limiter
	serverDown *bandwidth.Limiter

	mu          sync.Mutex
	status      event.ConnectStatus
	started     bool
	stopping    bool
	provisional map[string]pendingCreate
	ftPending   map[string]shared.TransferID
	loopDone    chan struct{}
}

// pendingCreate tracks a channel creation awaiting its reply. internal
// marks a token minted in this package for a caller that passed none;
// such tokens never reach the application.
type pendingCreate struct {
	channel  shared.ChannelID
	internal bool
}

func newConnection(lib *Library, id shared.ConnectionID, cfg Config) *Connection {
	logger := cfg.Logger.With("component", "connection", "connection_id", id)
	handler := cfg.Handler
	if handler == nil {
		handler = func(event.Event) {}
	}

	c := &Connection{
		id:          id,
		lib:         lib,
		cfg:         cfg,
		link:        cfg.Link,
		store:       entity.NewStore(logger),
		staged:      entity.NewPending(),
		correlator:  correlate.New(logger),
		subs:        subscribe.NewSet(),
		events:      event.NewDispatcher(handler, logger),
		serverUp:    bandwidth.NewLimiter(bandwidth.Unlimited),
		serverDown:  bandwidth.NewLimiter(bandwidth.Unlimited),
		provisional: make(map[string]pendingCreate),
		ftPending:   make(map[string]shared.TransferID),
		loopDone:    make(chan struct{}),
		logger:      logger,
	}
	c.transfers = transfer.NewManager(lib.instanceUp, lib.instanceDown, c.serverUp, c.serverDown, c.sendEnvelope, c.onTransferDone, logger)
	return c
}

func (c *Connection) ID() shared.ConnectionID { return c.id }

func (c *Connection) Status() event.ConnectStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Connection) setStatus(status event.ConnectStatus, code shared.Code) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()
	c.events.Dispatch(event.ConnectStatusChanged{Status: status, Code: code})
}

// Start sends the connect request and begins processing notifications.
// It returns once the handshake is on the wire; the Established status
// arrives as an event.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return shared.CodeInvalidArgument
	}
	c.started = true
	c.mu.Unlock()

	c.setStatus(event.StatusConnecting, shared.CodeOK)

	env, err := wire.New(wire.TypeConnect, wire.Connect{
		Identity:       c.cfg.Identity,
		Nickname:       c.cfg.Nickname,
		ServerPassword: c.cfg.ServerPassword,
		DefaultChannel: c.cfg.DefaultChannel,
	})
	if err != nil {
		return err
	}
	if err := c.link.Send(ctx, env); err != nil {
		c.setStatus(event.StatusDisconnected, shared.CodeOf(err))
		return err
	}
	c.setStatus(event.StatusConnected, shared.CodeOK)

	go c.loop()
	return nil
}

// Stop disconnects. It blocks until the processing loop has torn down,
// so pending requests and transfers are already failed when it returns.
func (c *Connection) Stop(quitMessage string) {
	c.mu.Lock()
	started := c.started
	c.stopping = true
	c.mu.Unlock()

	env, err := wire.New(wire.TypeDisconnect, wire.Disconnect{QuitMessage: quitMessage})
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = c.link.Send(ctx, env)
		cancel()
	}
	c.link.Close()
	if started {
		<-c.loopDone
	}
}

// Destroy stops the connection and quiesces its event queue. No handler
// invocation survives this call.
func (c *Connection) Destroy() {
	c.Stop("")
	c.events.Drain()
	c.lib.remove(c.id)
}

func (c *Connection) loop() {
	for env := range c.link.Inbound() {
		c.process(env)
	}
	c.teardown()
	close(c.loopDone)
}

// teardown runs exactly once, when the link drains. Pending requests and
// live transfers never vanish silently.
func (c *Connection) teardown() {
	c.mu.Lock()
	stopping := c.stopping
	c.provisional = make(map[string]pendingCreate)
	c.ftPending = make(map[string]shared.TransferID)
	c.mu.Unlock()

	c.correlator.FailAll(shared.CodeConnectionLost)
	c.transfers.FailAll(shared.CodeConnectionLost)
	c.store.Reset()
	c.staged.Reset()

	code := shared.CodeConnectionLost
	if stopping {
		code = shared.CodeOK
	}
	c.setStatus(event.StatusDisconnected, code)
}

func (c *Connection) sendEnvelope(ctx context.Context, env *wire.Envelope) error {
	return c.link.Send(ctx, env)
}

func (c *Connection) sendWithTimeout(env *wire.Envelope) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return c.link.Send(ctx, env)
}

func (c *Connection) onTransferDone(id shared.TransferID, code shared.Code) {
	c.events.Dispatch(event.TransferStatusChanged{Transfer: id, Code: code})
}

// request issues the caller's token, encodes and sends. Nothing is sent
// when the token is still in use.
func (c *Connection) request(token string, t wire.Type, payload any) (*correlate.Pending, error) {
	p, err := c.correlator.Issue(token)
	if err != nil {
		return nil, err
	}
	env, err := wire.New(t, payload)
	if err != nil {
		c.correlator.Abandon(token)
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := c.link.Send(ctx, env); err != nil {
		c.correlator.Abandon(token)
		return nil, err
	}
	return p, nil
}

// process applies one server notification to the mirror and emits the
// corresponding event. Runs on the single loop goroutine.
func (c *Connection) process(env *wire.Envelope) {
	switch env.T {
	case wire.TypeWelcome:
		var w wire.Welcome
		if env.Decode(&w) != nil {
			return
		}
		c.store.SetSelf(w.Self)
		c.store.ApplyServerUpdate(w.Server)
		c.setStatus(event.StatusEstablishing, shared.CodeOK)

	case wire.TypeReply:
		c.processReply(env)

	case wire.TypeServerEdited:
		var n wire.ServerEdited
		if env.Decode(&n) != nil {
			return
		}
		c.store.ApplyServerUpdate(n.Values)
		c.events.Dispatch(event.ServerEdited{Invoker: invokerID(n.Invoker)})

	case wire.TypeServerStop:
		var n wire.ServerStop
		env.Decode(&n)
		c.events.Dispatch(event.ServerStopped{Message: n.Message})

	case wire.TypeChannelAdded:
		var n wire.ChannelAdded
		if env.Decode(&n) != nil {
			return
		}
		c.store.CreateChannel(n.Channel, n.Parent)
		c.store.ApplyChannelUpdate(n.Channel, n.Values)

	case wire.TypeChannelCreated:
		c.processChannelCreated(env)

	case wire.TypeChannelDeleted:
		c.processChannelDeleted(env)

	case wire.TypeChannelMoved:
		var n wire.ChannelMoved
		if env.Decode(&n) != nil {
			return
		}
		c.store.MoveChannel(n.Channel, n.NewParent)
		c.events.Dispatch(event.ChannelMoved{
			Channel:   n.Channel,
			NewParent: n.NewParent,
			Invoker:   invokerID(n.Invoker),
		})

	case wire.TypeChannelEdited:
		var n wire.ChannelEdited
		if env.Decode(&n) != nil {
			return
		}
		c.store.ApplyChannelUpdate(n.Channel, n.Values)
		c.events.Dispatch(event.ChannelEdited{Channel: n.Channel, Invoker: invokerID(n.Invoker)})

	case wire.TypeClientEnter:
		c.processClientEnter(env)

	case wire.TypeClientLeft:
		var n wire.ClientLeft
		if env.Decode(&n) != nil {
			return
		}
		c.events.Dispatch(event.ClientLeft{
			Client:     n.Client,
			OldChannel: n.OldChannel,
			Visibility: n.Visibility,
			Message:    n.Message,
		})
		if n.Client != c.store.Self() {
			c.store.DestroyClient(n.Client)
		}

	case wire.TypeClientMoved:
		c.processClientMoved(env)

	case wire.TypeClientUpdated:
		var n wire.ClientUpdated
		if env.Decode(&n) != nil {
			return
		}
		c.store.ApplyClientUpdate(n.Client, n.Values)
		c.events.Dispatch(event.ClientUpdated{Client: n.Client, Invoker: invokerID(n.Invoker)})

	case wire.TypeTalkChanged:
		var n wire.TalkChanged
		if env.Decode(&n) != nil {
			return
		}
		talking := 0
		if n.Talking {
			talking = 1
		}
		c.store.ApplyClientUpdate(n.Client, map[property.ClientKey]property.Value{
			property.ClientFlagTalking: property.Int(talking),
		})
		c.events.Dispatch(event.TalkStatusChanged{Client: n.Client, Talking: n.Talking})

	case wire.TypeTextArrived:
		var n wire.TextArrived
		if env.Decode(&n) != nil {
			return
		}
		c.events.Dispatch(event.TextMessageArrived{
			Target:   n.Target,
			From:     n.From,
			FromName: n.FromName,
			Text:     n.Message,
		})

	case wire.TypeSubConfirm:
		c.processSubConfirm(env, subscribe.KindSubscribe)
	case wire.TypeUnsubConfirm:
		c.processSubConfirm(env, subscribe.KindUnsubscribe)

	case wire.TypeConnInfoResult:
		var n wire.ConnInfoResult
		if env.Decode(&n) != nil {
			return
		}
		c.events.Dispatch(event.ConnectionInfoArrived{Client: n.Client, Info: n.Info})

	case wire.TypeAuthTokenIssued:
		var n wire.AuthTokenIssued
		if env.Decode(&n) != nil {
			return
		}
		c.events.Dispatch(event.AuthTokenIssued{Token: n.Token})

	case wire.TypeFTStart:
		c.processFTStart(env)

	case wire.TypeFTData:
		var n wire.FTData
		if env.Decode(&n) != nil {
			return
		}
		c.transfers.Feed(n.Key, n.Data, n.Done)

	case wire.TypeFTStatus:
		var n wire.FTStatus
		if env.Decode(&n) != nil {
			return
		}
		c.transfers.StatusByKey(n.Key, n.Code)

	case wire.TypeFileListEntry:
		var n wire.FileListEntry
		if env.Decode(&n) != nil {
			return
		}
		c.events.Dispatch(event.FileListEntry{
			Channel:  n.Channel,
			Path:     n.Path,
			Name:     n.Name,
			Size:     n.Size,
			Modified: int64(n.DateTime),
			Type:     n.Type,
			Partial:  n.IncompleteSize,
		})

	case wire.TypeFileListFinished:
		var n wire.FileListFinished
		if env.Decode(&n) != nil {
			return
		}
		c.events.Dispatch(event.FileListFinished{Channel: n.Channel, Path: n.Path})
		c.correlator.Resolve(n.Token, correlate.Outcome{Code: shared.CodeOK})

	case wire.TypeFileInfoResult:
		var n wire.FileInfoResult
		if env.Decode(&n) != nil {
			return
		}
		c.events.Dispatch(event.FileInfoArrived{
			Channel:  n.Channel,
			Name:     n.Name,
			Size:     n.Size,
			Modified: int64(n.DateTime),
		})
		c.correlator.Resolve(n.Token, correlate.Outcome{Code: shared.CodeOK})

	default:
		c.logger.Debug("unhandled notification", "type", env.T)
	}
}

func (c *Connection) processReply(env *wire.Envelope) {
	var r wire.Reply
	if env.Decode(&r) != nil {
		return
	}

	// A failed channel creation rolls the provisional entity back before
	// the caller observes the outcome.
	c.mu.Lock()
	create, isCreate := c.provisional[r.Token]
	if isCreate {
		delete(c.provisional, r.Token)
	}
	ftID, isFT := c.ftPending[r.Token]
	if isFT {
		delete(c.ftPending, r.Token)
	}
	c.mu.Unlock()

	if isCreate && r.Code != shared.CodeOK {
		c.store.RollbackChannel(create.channel)
	}
	if isFT {
		// Only error replies reach here; success arrives as a transfer
		// start notification. The failure surfaces through the
		// transfer's own status event, never as a server error.
		c.transfers.Fail(ftID, r.Code)
		return
	}

	matched := c.correlator.Resolve(r.Token, correlate.Outcome{Code: r.Code, Message: r.Message, Extra: r.Extra})

	if r.Code != shared.CodeOK {
		// Errors always surface as the generic server-error event,
		// whether or not a caller holds the pending outcome.
		token := r.Token
		if isCreate && create.internal {
			token = ""
		}
		c.events.Dispatch(event.ServerErrorArrived{
			Token:   token,
			Code:    r.Code,
			Message: r.Message,
			Extra:   r.Extra,
		})
		return
	}
	if matched || (isCreate && create.internal) {
		return
	}
	c.events.Dispatch(event.ServerErrorArrived{
		Token:   r.Token,
		Code:    r.Code,
		Message: r.Message,
		Extra:   r.Extra,
	})
}

func (c *Connection) processChannelCreated(env *wire.Envelope) {
	var n wire.ChannelCreated
	if env.Decode(&n) != nil {
		return
	}

	if n.Provisional != 0 {
		if err := c.store.PromoteChannel(n.Provisional, n.Channel); err != nil {
			c.logger.Warn("provisional promote failed", "provisional", n.Provisional, "error", err)
			c.store.CreateChannel(n.Channel, n.Parent)
		}
	} else {
		c.store.CreateChannel(n.Channel, n.Parent)
	}
	c.store.ApplyChannelUpdate(n.Channel, n.Values)

	name := ""
	if v, ok := n.Values[property.ChannelName]; ok {
		name, _ = v.AsString()
	}
	c.events.Dispatch(event.ChannelCreated{
		Channel: n.Channel,
		Parent:  n.Parent,
		Invoker: invokerID(n.Invoker),
		Name:    name,
	})
}

func (c *Connection) processChannelDeleted(env *wire.Envelope) {
	var n wire.ChannelDeleted
	if env.Decode(&n) != nil {
		return
	}

	for _, id := range c.store.ChannelClients(n.Channel) {
		if id != c.store.Self() {
			c.store.DestroyClient(id)
		}
	}
	c.store.DestroyChannel(n.Channel)

	c.events.Dispatch(event.ChannelDeleted{Channel: n.Channel, Invoker: invokerID(n.Invoker)})
	for _, kind := range c.subs.Remove(n.Channel) {
		c.events.Dispatch(event.SubscriptionsFinished{Kind: finishedType(kind)})
	}
}

func (c *Connection) processClientEnter(env *wire.Envelope) {
	var n wire.ClientEnter
	if env.Decode(&n) != nil {
		return
	}

	if !c.store.HasClient(n.Client) {
		c.store.CreateClient(n.Client, n.Channel)
	} else {
		c.store.MoveClient(n.Client, n.Channel)
	}
	c.store.ApplyClientUpdate(n.Client, n.Values)

	if n.Client == c.store.Self() {
		c.subs.SetCurrent(n.Channel)
		c.setStatus(event.StatusEstablished, shared.CodeOK)
	}

	nickname := ""
	if v, ok := n.Values[property.ClientNickname]; ok {
		nickname, _ = v.AsString()
	}
	c.events.Dispatch(event.ClientEntered{
		Client:     n.Client,
		Channel:    n.Channel,
		Visibility: n.Visibility,
		Nickname:   nickname,
	})
}

func (c *Connection) processClientMoved(env *wire.Envelope) {
	var n wire.ClientMoved
	if env.Decode(&n) != nil {
		return
	}

	self := c.store.Self()
	if n.Client == self {
		c.store.MoveClient(self, n.NewChannel)
		prev, lostVisibility := c.subs.SetCurrent(n.NewChannel)
		if lostVisibility {
			// The old channel was visible only through presence; its
			// occupants are gone from view now.
			for _, id := range c.store.ChannelClients(prev) {
				if id != self {
					c.store.DestroyClient(id)
				}
			}
		}
	} else {
		switch n.Visibility {
		case wire.VisibilityEnter:
			if !c.store.HasClient(n.Client) {
				c.store.CreateClient(n.Client, n.NewChannel)
			}
			c.store.ApplyClientUpdate(n.Client, n.Values)
			c.store.MoveClient(n.Client, n.NewChannel)
		case wire.VisibilityRetain:
			c.store.MoveClient(n.Client, n.NewChannel)
		}
	}

	c.events.Dispatch(event.ClientMoved{
		Client:     n.Client,
		OldChannel: n.OldChannel,
		NewChannel: n.NewChannel,
		Visibility: n.Visibility,
		Reason:     n.Reason,
		Invoker:    invokerID(n.Invoker),
		Message:    n.Message,
	})

	if n.Client != self && n.Visibility == wire.VisibilityLeave {
		c.store.DestroyClient(n.Client)
	}
}

func (c *Connection) processSubConfirm(env *wire.Envelope, kind subscribe.Kind) {
	var n wire.SubConfirm
	if env.Decode(&n) != nil {
		return
	}

	finished := c.subs.Confirm(kind, n.Channel)
	c.events.Dispatch(event.SubscriptionChanged{
		Channel:    n.Channel,
		Subscribed: kind == subscribe.KindSubscribe,
	})

	if kind == subscribe.KindUnsubscribe && !c.subs.Visible(n.Channel) {
		// Everyone visible solely through this channel leaves the mirror.
		for _, id := range c.store.ChannelClients(n.Channel) {
			if id != c.store.Self() {
				c.store.DestroyClient(id)
			}
		}
	}
	for _, k := range finished {
		c.events.Dispatch(event.SubscriptionsFinished{Kind: finishedType(k)})
	}
}

func (c *Connection) processFTStart(env *wire.Envelope) {
	var n wire.FTStart
	if env.Decode(&n) != nil {
		return
	}

	c.mu.Lock()
	id, ok := c.ftPending[n.Token]
	if ok {
		delete(c.ftPending, n.Token)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("transfer start without pending init", "token", n.Token)
		return
	}
	if err := c.transfers.Begin(id, n.Key, n.ResumeOffset, n.Size); err != nil {
		c.logger.Warn("transfer begin failed", "transfer_id", id, "error", err)
	}
}

func invokerID(inv *wire.Invoker) shared.ClientID {
	if inv == nil {
		return 0
	}
	return inv.ID
}

func finishedType(kind subscribe.Kind) wire.Type {
	if kind == subscribe.KindUnsubscribe {
		return wire.TypeUnsubscribe
	}
	return wire.TypeSubscribe
}

// Audio surface. Capture reports whether the frame should be transmitted;
// ownership and mute state live in the library-wide router.

func (c *Connection) AcquireCapture()          { c.lib.audio.Acquire(c.id) }
func (c *Connection) ReleaseCapture()          { c.lib.audio.Release(c.id) }
func (c *Connection) SetCaptureMuted(m bool)   { c.lib.audio.SetMuted(c.id, m) }
func (c *Connection) CaptureMuted() bool       { return c.lib.audio.Muted(c.id) }
func (c *Connection) Capture(f *audio.Frame) bool {
	return c.lib.audio.Capture(c.id, f)
}
func (c *Connection) Playback(source shared.ClientID, f *audio.Frame) bool {
	return c.lib.audio.Playback(c.id, source, c.store.Self(), f)
}

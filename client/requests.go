package client

import (
	"github.com/accordvoice/accord/internal/correlate"
	"github.com/accordvoice/accord/internal/event"
	"github.com/accordvoice/accord/internal/property"
	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/subscribe"
	"github.com/accordvoice/accord/internal/wire"
)

// Typed reads over the mirrored state. These never touch the wire and
// never observe staged-but-unflushed writes.

func (c *Connection) Self() shared.ClientID { return c.store.Self() }

func (c *Connection) CurrentChannel() shared.ChannelID { return c.subs.Current() }

func (c *Connection) ServerString(key property.ServerKey) (string, error) {
	return c.store.ServerString(key)
}

func (c *Connection) ServerInt(key property.ServerKey) (int, error) {
	return c.store.ServerInt(key)
}

func (c *Connection) ServerUint64(key property.ServerKey) (uint64, error) {
	return c.store.ServerUint64(key)
}

func (c *Connection) ChannelString(ch shared.ChannelID, key property.ChannelKey) (string, error) {
	return c.store.ChannelString(ch, key)
}

func (c *Connection) ChannelInt(ch shared.ChannelID, key property.ChannelKey) (int, error) {
	return c.store.ChannelInt(ch, key)
}

func (c *Connection) ChannelUint64(ch shared.ChannelID, key property.ChannelKey) (uint64, error) {
	return c.store.ChannelUint64(ch, key)
}

func (c *Connection) ClientString(id shared.ClientID, key property.ClientKey) (string, error) {
	return c.store.ClientString(id, key)
}

func (c *Connection) ClientInt(id shared.ClientID, key property.ClientKey) (int, error) {
	return c.store.ClientInt(id, key)
}

func (c *Connection) ClientUint64(id shared.ClientID, key property.ClientKey) (uint64, error) {
	return c.store.ClientUint64(id, key)
}

func (c *Connection) Channels() []shared.ChannelID { return c.store.Channels() }

func (c *Connection) Clients() []shared.ClientID { return c.store.Clients() }

func (c *Connection) ChannelClients(ch shared.ChannelID) []shared.ClientID {
	return c.store.ChannelClients(ch)
}

func (c *Connection) ChannelParent(ch shared.ChannelID) (shared.ChannelID, error) {
	return c.store.ChannelParent(ch)
}

func (c *Connection) ClientChannel(id shared.ClientID) (shared.ChannelID, error) {
	return c.store.ClientChannel(id)
}

// Staging. Writes accumulate locally and hit the wire on flush; reads do
// not see them until the server confirms.

func (c *Connection) StageSelf(key property.ClientKey, value property.Value) error {
	return c.staged.StageSelf(key, value)
}

func (c *Connection) StageServer(key property.ServerKey, value property.Value) error {
	return c.staged.StageServer(key, value)
}

func (c *Connection) StageChannel(ch shared.ChannelID, key property.ChannelKey, value property.Value) error {
	return c.staged.StageChannel(ch, key, value)
}

// FlushSelf sends every staged self property as one batch. The batch is
// drained even when the server rejects it; rejected values simply never
// appear in the mirror.
func (c *Connection) FlushSelf(token string) (*correlate.Pending, error) {
	values := c.staged.TakeSelf()
	if len(values) == 0 {
		return nil, shared.CodeInvalidArgument
	}
	return c.request(token, wire.TypeFlushSelf, wire.FlushSelf{Token: token, Values: values})
}

func (c *Connection) FlushServer(token string) (*correlate.Pending, error) {
	values := c.staged.TakeServer()
	if len(values) == 0 {
		return nil, shared.CodeInvalidArgument
	}
	return c.request(token, wire.TypeFlushServer, wire.FlushServer{Token: token, Values: values})
}

func (c *Connection) FlushChannel(token string, ch shared.ChannelID) (*correlate.Pending, error) {
	if c.store.ChannelProvisional(ch) {
		return nil, shared.CodeInvalidArgument
	}
	values := c.staged.TakeChannel(ch)
	if len(values) == 0 {
		return nil, shared.CodeInvalidArgument
	}
	return c.request(token, wire.TypeFlushChannel, wire.FlushChannel{
		Token:   token,
		Channel: ch,
		Values:  values,
	})
}

// CreateChannel sends the properties staged against channel 0 as a new
// channel under parent. The returned ID is provisional: it resolves
// locally at once, re-binds to the server-assigned ID on confirmation,
// and rolls back if the server rejects the creation.
func (c *Connection) CreateChannel(token string, parent shared.ChannelID) (shared.ChannelID, *correlate.Pending, error) {
	values := c.staged.TakeChannel(0)
	if len(values) == 0 {
		return 0, nil, shared.CodeInvalidArgument
	}

	p, err := c.correlator.Issue(token)
	if err != nil {
		return 0, nil, err
	}
	sent := token
	if sent == "" {
		// The rollback path needs a reply either way.
		sent = shared.NewID("cc_")
	}

	prov, err := c.store.CreateProvisionalChannel(parent, values)
	if err != nil {
		c.correlator.Abandon(token)
		return 0, nil, err
	}

	c.mu.Lock()
	c.provisional[sent] = pendingCreate{channel: prov, internal: token == ""}
	c.mu.Unlock()

	env, err := wire.New(wire.TypeChannelCreate, wire.ChannelCreate{
		Token:       sent,
		Provisional: prov,
		Parent:      parent,
		Values:      values,
	})
	if err == nil {
		err = c.sendWithTimeout(env)
	}
	if err != nil {
		c.mu.Lock()
		delete(c.provisional, sent)
		c.mu.Unlock()
		c.store.RollbackChannel(prov)
		c.correlator.Abandon(token)
		return 0, nil, err
	}
	return prov, p, nil
}

func (c *Connection) DeleteChannel(token string, ch shared.ChannelID, force bool) (*correlate.Pending, error) {
	return c.request(token, wire.TypeChannelDelete, wire.ChannelDelete{
		Token:   token,
		Channel: ch,
		Force:   force,
	})
}

func (c *Connection) MoveChannel(token string, ch, newParent shared.ChannelID, order uint64) (*correlate.Pending, error) {
	return c.request(token, wire.TypeChannelMove, wire.ChannelMove{
		Token:     token,
		Channel:   ch,
		NewParent: newParent,
		Order:     order,
	})
}

// MoveClients requests a channel switch for the targets. Moving self uses
// the same path with the own client ID.
func (c *Connection) MoveClients(token string, targets []shared.ClientID, ch shared.ChannelID, password string) (*correlate.Pending, error) {
	return c.request(token, wire.TypeClientMove, wire.ClientMove{
		Token:    token,
		Targets:  targets,
		Channel:  ch,
		Password: password,
	})
}

func (c *Connection) KickFromChannel(token string, targets []shared.ClientID, reason string) (*correlate.Pending, error) {
	return c.request(token, wire.TypeClientKick, wire.ClientKick{
		Token:   token,
		Targets: targets,
		Reason:  reason,
	})
}

func (c *Connection) KickFromServer(token string, targets []shared.ClientID, reason string) (*correlate.Pending, error) {
	return c.request(token, wire.TypeClientKick, wire.ClientKick{
		Token:      token,
		Targets:    targets,
		FromServer: true,
		Reason:     reason,
	})
}

func (c *Connection) SendPrivateText(token string, target shared.ClientID, message string) (*correlate.Pending, error) {
	return c.request(token, wire.TypeTextMessage, wire.TextMessage{
		Token:   token,
		Target:  wire.TextTargetClient,
		Client:  target,
		Message: message,
	})
}

// SendChannelText addresses the current channel when ch is zero.
func (c *Connection) SendChannelText(token string, ch shared.ChannelID, message string) (*correlate.Pending, error) {
	return c.request(token, wire.TypeTextMessage, wire.TextMessage{
		Token:   token,
		Target:  wire.TextTargetChannel,
		Channel: ch,
		Message: message,
	})
}

func (c *Connection) SendServerText(token string, message string) (*correlate.Pending, error) {
	return c.request(token, wire.TypeTextMessage, wire.TextMessage{
		Token:   token,
		Target:  wire.TextTargetServer,
		Message: message,
	})
}

// Subscribe transitions the given channels toward Subscribed. One
// finished event fires after the last confirmation of this call, or
// immediately when every channel already is where it should be.
func (c *Connection) Subscribe(token string, channels []shared.ChannelID) (*correlate.Pending, error) {
	return c.subscribeOp(token, subscribe.KindSubscribe, wire.TypeSubscribe, channels)
}

func (c *Connection) Unsubscribe(token string, channels []shared.ChannelID) (*correlate.Pending, error) {
	return c.subscribeOp(token, subscribe.KindUnsubscribe, wire.TypeUnsubscribe, channels)
}

// SubscribeAll targets every known channel. Repeating it is harmless:
// channels already subscribed are skipped, the finished event still
// fires once per call.
func (c *Connection) SubscribeAll(token string) (*correlate.Pending, error) {
	var channels []shared.ChannelID
	for _, ch := range c.store.Channels() {
		if !c.store.ChannelProvisional(ch) {
			channels = append(channels, ch)
		}
	}
	return c.subscribeOp(token, subscribe.KindSubscribe, wire.TypeSubscribe, channels)
}

// UnsubscribeAll drops every explicit subscription. The current channel
// is pinned and stays visible.
func (c *Connection) UnsubscribeAll(token string) (*correlate.Pending, error) {
	return c.subscribeOp(token, subscribe.KindUnsubscribe, wire.TypeUnsubscribe, c.subs.Explicit())
}

func (c *Connection) subscribeOp(token string, kind subscribe.Kind, t wire.Type, channels []shared.ChannelID) (*correlate.Pending, error) {
	p, err := c.correlator.Issue(token)
	if err != nil {
		return nil, err
	}

	send, finishedNow := c.subs.Begin(kind, channels)
	if finishedNow {
		c.events.Dispatch(event.SubscriptionsFinished{Kind: t})
		c.correlator.Resolve(token, correlate.Outcome{Code: shared.CodeOK})
		return p, nil
	}

	env, err := wire.New(t, wire.Subscribe{Token: token, Channels: send})
	if err == nil {
		err = c.sendWithTimeout(env)
	}
	if err != nil {
		c.correlator.Abandon(token)
		return nil, err
	}
	return p, nil
}

func (c *Connection) Subscribed(ch shared.ChannelID) bool {
	return c.subs.Visible(ch)
}

func (c *Connection) RequestServerVariables(token string) (*correlate.Pending, error) {
	return c.request(token, wire.TypeServerVars, wire.VarsRequest{Token: token})
}

func (c *Connection) RequestClientVariables(token string, id shared.ClientID) (*correlate.Pending, error) {
	return c.request(token, wire.TypeClientVars, wire.VarsRequest{Token: token, Client: id})
}

func (c *Connection) RequestConnectionInfo(token string, id shared.ClientID) (*correlate.Pending, error) {
	return c.request(token, wire.TypeConnInfo, wire.ConnInfo{Token: token, Client: id})
}

// RequestAuthToken asks the server to mint a signed token for out-of-band
// surfaces; it arrives as an AuthTokenIssued event.
func (c *Connection) RequestAuthToken(token, kind string) (*correlate.Pending, error) {
	return c.request(token, wire.TypeAuthToken, wire.AuthTokenRequest{Token: token, Kind: kind})
}

// SetTalking pushes the local talk status, fire-and-forget.
func (c *Connection) SetTalking(talking bool) {
	env, err := wire.New(wire.TypeTalkStatus, wire.TalkStatus{Talking: talking})
	if err != nil {
		return
	}
	_ = c.sendWithTimeout(env)
}

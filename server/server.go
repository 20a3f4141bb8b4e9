package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/accordvoice/accord/internal/bandwidth"
	"github.com/accordvoice/accord/internal/permission"
	"github.com/accordvoice/accord/internal/property"
	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/transport"
	"github.com/accordvoice/accord/internal/wire"
)

const (
	handshakeTimeout = 5 * time.Second
	sendTimeout      = 10 * time.Second
)

type channel struct {
	id     shared.ChannelID
	parent shared.ChannelID
	props  property.Table[property.ChannelKey]
}

// session is one attached client. Its subscription set drives which
// notifications reach it; the current channel is implicitly visible.
type session struct {
	id       shared.ClientID
	uid      string
	nickname string
	link     transport.Link
	props    property.Table[property.ClientKey]

	mu      sync.Mutex
	channel shared.ChannelID
	subs    map[shared.ChannelID]bool
	closed  bool
}

func (s *session) currentChannel() shared.ChannelID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

func (s *session) setChannel(ch shared.ChannelID) {
	s.mu.Lock()
	s.channel = ch
	s.mu.Unlock()
}

// visible reports whether the session observes presence in ch.
func (s *session) visible(ch shared.ChannelID) bool {
	if ch == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return ch == s.channel || s.subs[ch]
}

func (s *session) subscribe(ch shared.ChannelID)   { s.mu.Lock(); s.subs[ch] = true; s.mu.Unlock() }
func (s *session) unsubscribe(ch shared.ChannelID) { s.mu.Lock(); delete(s.subs, ch); s.mu.Unlock() }

func (s *session) propsSnapshot() map[property.ClientKey]property.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.props.Snapshot()
}

func (s *session) applyProps(values map[property.ClientKey]property.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.props.Apply(values)
}

func (s *session) setProp(key property.ClientKey, value property.Value) {
	s.mu.Lock()
	s.props.Set(key, value)
	s.mu.Unlock()
}

func (s *session) send(env *wire.Envelope) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	_ = s.link.Send(ctx, env)
}

func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.link.Close()
}

// actor snapshots the session for the permission gate.
func (s *session) actor() permission.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return permission.Actor{
		ID:       s.id,
		Channel:  s.channel,
		UID:      s.uid,
		Nickname: s.nickname,
	}
}

// upload tracks one inbound file stream on the server side.
type upload struct {
	owner     shared.ClientID
	channel   shared.ChannelID
	dir       string
	name      string
	overwrite bool
	w         io.WriteCloser
}

// VirtualServer holds the canonical state of one server: its property
// table, channel tree and attached sessions. All mutations flow through
// the request handlers, each behind the permission gate.
type VirtualServer struct {
	id  shared.ServerID
	lib *Library

	mu          sync.RWMutex
	props       property.Table[property.ServerKey]
	channels    map[shared.ChannelID]*channel
	nextChannel shared.ChannelID
	sessions    map[shared.ClientID]*session
	nextClient  shared.ClientID
	password    string
	uploads     map[string]*upload
	downloads   map[string]context.CancelFunc
	stopped     bool

	serverLimit *bandwidth.Limiter
	created     time.Time
	logger      *slog.Logger
}

func newVirtualServer(lib *Library, id shared.ServerID, name string, maxClients int, password string) *VirtualServer {
	vs := &VirtualServer{
		id:          id,
		lib:         lib,
		props:       property.NewTable[property.ServerKey](),
		channels:    make(map[shared.ChannelID]*channel),
		nextChannel: 1,
		sessions:    make(map[shared.ClientID]*session),
		nextClient:  1,
		password:    password,
		uploads:     make(map[string]*upload),
		downloads:   make(map[string]context.CancelFunc),
		serverLimit: bandwidth.NewLimiter(bandwidth.Unlimited),
		created:     time.Now(),
		logger:      lib.logger.With("component", "virtual_server", "server_id", id),
	}

	vs.props.Set(property.ServerUniqueIdentifier, property.String(shared.NewID("vs_")))
	vs.props.Set(property.ServerName, property.String(name))
	vs.props.Set(property.ServerWelcomeMessage, property.String("Welcome"))
	vs.props.Set(property.ServerPlatform, property.String("accord"))
	vs.props.Set(property.ServerVersion, property.String("1.0"))
	vs.props.Set(property.ServerMaxClients, property.Int(maxClients))
	vs.props.Set(property.ServerClientsOnline, property.Int(0))
	vs.props.Set(property.ServerChannelsOnline, property.Int(0))
	vs.props.Set(property.ServerCreated, property.Uint64(uint64(vs.created.Unix())))
	vs.props.Set(property.ServerUptime, property.Uint64(0))
	return vs
}

func (vs *VirtualServer) ID() shared.ServerID { return vs.id }

// SetSpeedLimit caps this server's outbound transfer throughput.
func (vs *VirtualServer) SetSpeedLimit(bytesPerSecond uint64) {
	vs.serverLimit.SetLimit(bytesPerSecond)
}

func (vs *VirtualServer) SpeedLimit() uint64 {
	return vs.serverLimit.Limit()
}

func (vs *VirtualServer) ClientCount() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.sessions)
}

// CreateChannel adds a channel administratively, outside any session.
// Attached sessions are notified like for any other creation.
func (vs *VirtualServer) CreateChannel(parent shared.ChannelID, props map[property.ChannelKey]property.Value) (shared.ChannelID, error) {
	id, err := vs.createChannel(parent, props)
	if err != nil {
		return 0, err
	}
	created, _ := wire.New(wire.TypeChannelCreated, wire.ChannelCreated{
		Channel: id,
		Parent:  parent,
		Values:  publicChannelProps(props),
	})
	vs.eachSession(func(r *session) { r.send(created) })
	vs.publish(created)
	return id, nil
}

// createChannel validates and records a new channel. Callers must not
// hold vs.mu.
func (vs *VirtualServer) createChannel(parent shared.ChannelID, props map[property.ChannelKey]property.Value) (shared.ChannelID, error) {
	name := ""
	if v, ok := props[property.ChannelName]; ok {
		name, _ = v.AsString()
	}
	if name == "" {
		return 0, shared.CodeInvalidArgument
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	if parent != 0 {
		if _, ok := vs.channels[parent]; !ok {
			return 0, shared.CodeParentNotFound
		}
	}
	for _, ch := range vs.channels {
		if ch.parent != parent {
			continue
		}
		existing, err := ch.props.Get(property.ChannelName)
		if err != nil {
			continue
		}
		if n, _ := existing.AsString(); n == name {
			return 0, shared.CodeChannelNameTaken
		}
	}

	id := vs.nextChannel
	vs.nextChannel++

	ch := &channel{id: id, parent: parent, props: property.NewTable[property.ChannelKey]()}
	if err := ch.props.Apply(props); err != nil {
		return 0, err
	}
	if _, ok := props[property.ChannelPassword]; ok {
		hasPassword := 0
		if pw, _ := props[property.ChannelPassword].AsString(); pw != "" {
			hasPassword = 1
		}
		ch.props.Set(property.ChannelFlagPassword, property.Int(hasPassword))
	}
	vs.channels[id] = ch
	vs.props.Set(property.ServerChannelsOnline, property.Int(len(vs.channels)))

	if vs.lib.persist != nil {
		if err := vs.lib.persist.SaveChannel(vs.id, id, parent, ch.props.Snapshot()); err != nil {
			vs.logger.Error("failed to persist channel", "channel_id", id, "error", err)
		}
	}
	return id, nil
}

func (vs *VirtualServer) restoreChannel(id, parent shared.ChannelID, props map[property.ChannelKey]property.Value) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	ch := &channel{id: id, parent: parent, props: property.NewTable[property.ChannelKey]()}
	ch.props.Apply(props)
	vs.channels[id] = ch
	if id >= vs.nextChannel {
		vs.nextChannel = id + 1
	}
	vs.props.Set(property.ServerChannelsOnline, property.Int(len(vs.channels)))
}

// defaultChannel finds the channel flagged as default, falling back to
// the lowest channel ID.
func (vs *VirtualServer) defaultChannel() shared.ChannelID {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	var lowest shared.ChannelID
	for id, ch := range vs.channels {
		if v, err := ch.props.Get(property.ChannelFlagDefault); err == nil {
			if flag, _ := v.AsInt(); flag == 1 {
				return id
			}
		}
		if lowest == 0 || id < lowest {
			lowest = id
		}
	}
	return lowest
}

// resolveChannelPath walks a name path from the root, for the connect
// request's default-channel option.
func (vs *VirtualServer) resolveChannelPath(path []string) shared.ChannelID {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	var current shared.ChannelID
	for _, name := range path {
		found := shared.ChannelID(0)
		for id, ch := range vs.channels {
			if ch.parent != current {
				continue
			}
			if v, err := ch.props.Get(property.ChannelName); err == nil {
				if n, _ := v.AsString(); n == name {
					found = id
					break
				}
			}
		}
		if found == 0 {
			return 0
		}
		current = found
	}
	return current
}

// AttachLink accepts one transport link and drives its session until the
// link closes. It blocks for the handshake only; the session loop runs on
// its own goroutine.
func (vs *VirtualServer) AttachLink(link transport.Link) error {
	var env *wire.Envelope
	select {
	case env = <-link.Inbound():
	case <-time.After(handshakeTimeout):
		link.Close()
		return shared.CodeNotConnected
	}
	if env == nil || env.T != wire.TypeConnect {
		link.Close()
		return shared.CodeInvalidArgument
	}

	var req wire.Connect
	if err := env.Decode(&req); err != nil {
		link.Close()
		return shared.CodeInvalidArgument
	}

	sess, err := vs.admit(link, &req)
	if err != nil {
		reply, _ := wire.New(wire.TypeReply, wire.Reply{
			Code:    shared.CodeOf(err),
			Message: shared.CodeOf(err).Message(),
		})
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		link.Send(ctx, reply)
		cancel()
		link.Close()
		return err
	}

	go vs.sessionLoop(sess)
	return nil
}

func (vs *VirtualServer) admit(link transport.Link, req *wire.Connect) (*session, error) {
	if req.Nickname == "" || req.Identity == "" {
		return nil, shared.CodeInvalidArgument
	}

	vs.mu.RLock()
	stopped := vs.stopped
	online := len(vs.sessions)
	password := vs.password
	maxClients, _ := vs.props.Get(property.ServerMaxClients)
	vs.mu.RUnlock()
	if stopped {
		return nil, shared.CodeServerShutdown
	}

	if limit, err := maxClients.AsInt(); err == nil && limit > 0 && online >= limit {
		return nil, shared.CodeMaxClientsReached
	}

	candidate := vs.lib.encrypt(req.ServerPassword)
	if password != "" && candidate != vs.lib.encrypt(password) {
		return nil, shared.CodeServerPasswordWrong
	}
	if err := vs.lib.gate.Check(permission.Request{
		Server:   vs.id,
		Action:   permission.ActionServerPasswordCheck,
		Actor:    permission.Actor{UID: req.Identity, Nickname: req.Nickname},
		Password: candidate,
	}); err != nil {
		return nil, err
	}
	if err := vs.lib.gate.Check(permission.Request{
		Server: vs.id,
		Action: permission.ActionClientConnect,
		Actor:  permission.Actor{UID: req.Identity, Nickname: req.Nickname},
	}); err != nil {
		return nil, err
	}

	joinChannel := shared.ChannelID(0)
	if len(req.DefaultChannel) > 0 {
		joinChannel = vs.resolveChannelPath(req.DefaultChannel)
	}
	if joinChannel == 0 {
		joinChannel = vs.defaultChannel()
	}

	vs.mu.Lock()
	if vs.stopped {
		vs.mu.Unlock()
		return nil, shared.CodeServerShutdown
	}
	id := vs.allocateClientIDLocked()
	sess := &session{
		id:       id,
		uid:      req.Identity,
		nickname: req.Nickname,
		link:     link,
		props:    property.NewTable[property.ClientKey](),
		channel:  joinChannel,
		subs:     make(map[shared.ChannelID]bool),
	}
	sess.props.Set(property.ClientUniqueIdentifier, property.String(req.Identity))
	sess.props.Set(property.ClientNickname, property.String(req.Nickname))
	sess.props.Set(property.ClientFlagTalking, property.Int(0))
	vs.sessions[id] = sess
	vs.props.Set(property.ServerClientsOnline, property.Int(len(vs.sessions)))
	vs.mu.Unlock()

	vs.welcome(sess)
	vs.broadcastEnter(sess)
	vs.logger.Info("client connected", "client_id", id, "nickname", req.Nickname, "channel_id", joinChannel)
	return sess, nil
}

func (vs *VirtualServer) allocateClientIDLocked() shared.ClientID {
	for {
		id := vs.nextClient
		vs.nextClient++
		if vs.nextClient == 0 {
			vs.nextClient = 1
		}
		if _, taken := vs.sessions[id]; !taken && id != 0 {
			return id
		}
	}
}

// welcome sends the full initial state: server properties, the channel
// tree, and every client the new session can see.
func (vs *VirtualServer) welcome(sess *session) {
	vs.mu.RLock()
	serverProps := vs.props.Snapshot()
	vs.mu.RUnlock()

	env, _ := wire.New(wire.TypeWelcome, wire.Welcome{
		Self:   sess.id,
		Server: serverProps,
	})
	sess.send(env)

	vs.mu.RLock()
	ids := make([]shared.ChannelID, 0, len(vs.channels))
	for id := range vs.channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	type chAdd struct {
		id     shared.ChannelID
		parent shared.ChannelID
		props  map[property.ChannelKey]property.Value
	}
	adds := make([]chAdd, 0, len(ids))
	for _, id := range ids {
		ch := vs.channels[id]
		adds = append(adds, chAdd{id: id, parent: ch.parent, props: publicChannelProps(ch.props.Snapshot())})
	}
	occupants := make([]*session, 0)
	for _, other := range vs.sessions {
		if other.id != sess.id && other.currentChannel() == sess.currentChannel() {
			occupants = append(occupants, other)
		}
	}
	vs.mu.RUnlock()

	for _, add := range adds {
		env, _ := wire.New(wire.TypeChannelAdded, wire.ChannelAdded{
			Channel: add.id,
			Parent:  add.parent,
			Values:  add.props,
		})
		sess.send(env)
	}

	self, _ := wire.New(wire.TypeClientEnter, wire.ClientEnter{
		Client:     sess.id,
		Channel:    sess.currentChannel(),
		Values:     sess.propsSnapshot(),
		Visibility: wire.VisibilityEnter,
	})
	sess.send(self)

	for _, other := range occupants {
		env, _ := wire.New(wire.TypeClientEnter, wire.ClientEnter{
			Client:     other.id,
			Channel:    other.currentChannel(),
			Values:     other.propsSnapshot(),
			Visibility: wire.VisibilityEnter,
		})
		sess.send(env)
	}
}

// publicChannelProps strips the channel password from broadcast
// snapshots; the flag stays.
func publicChannelProps(props map[property.ChannelKey]property.Value) map[property.ChannelKey]property.Value {
	if _, ok := props[property.ChannelPassword]; !ok {
		return props
	}
	out := make(map[property.ChannelKey]property.Value, len(props))
	for k, v := range props {
		if k == property.ChannelPassword {
			continue
		}
		out[k] = v
	}
	return out
}

func (vs *VirtualServer) broadcastEnter(sess *session) {
	ch := sess.currentChannel()
	env, _ := wire.New(wire.TypeClientEnter, wire.ClientEnter{
		Client:     sess.id,
		Channel:    ch,
		Values:     sess.propsSnapshot(),
		Visibility: wire.VisibilityEnter,
	})
	vs.eachSession(func(other *session) {
		if other.id != sess.id && other.visible(ch) {
			other.send(env)
		}
	})
}

func (vs *VirtualServer) eachSession(fn func(*session)) {
	vs.mu.RLock()
	sessions := make([]*session, 0, len(vs.sessions))
	for _, s := range vs.sessions {
		sessions = append(sessions, s)
	}
	vs.mu.RUnlock()
	for _, s := range sessions {
		fn(s)
	}
}

func (vs *VirtualServer) session(id shared.ClientID) (*session, bool) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	s, ok := vs.sessions[id]
	return s, ok
}

func (vs *VirtualServer) sessionLoop(sess *session) {
	for env := range sess.link.Inbound() {
		vs.handle(sess, env)
	}
	vs.detach(sess, wire.MoveReasonTimeout, "connection lost")
}

// detach removes a session and tells everyone who could see it.
func (vs *VirtualServer) detach(sess *session, reason wire.MoveReason, message string) {
	vs.mu.Lock()
	if _, ok := vs.sessions[sess.id]; !ok {
		vs.mu.Unlock()
		return
	}
	delete(vs.sessions, sess.id)
	vs.props.Set(property.ServerClientsOnline, property.Int(len(vs.sessions)))
	vs.mu.Unlock()

	vs.dropUploadsOf(sess.id)

	ch := sess.currentChannel()
	env, _ := wire.New(wire.TypeClientLeft, wire.ClientLeft{
		Client:     sess.id,
		OldChannel: ch,
		Visibility: wire.VisibilityLeave,
		Message:    message,
	})
	vs.eachSession(func(other *session) {
		if other.visible(ch) {
			other.send(env)
		}
	})

	sess.close()
	vs.logger.Info("client disconnected", "client_id", sess.id, "reason", int(reason))
}

// moveClient relocates a target session and emits per-receiver
// visibility-qualified move notifications.
func (vs *VirtualServer) moveClient(target *session, newCh shared.ChannelID, reason wire.MoveReason, invoker *wire.Invoker, message string) {
	oldCh := target.currentChannel()
	if oldCh == newCh {
		return
	}
	target.setChannel(newCh)

	values := target.propsSnapshot()
	vs.eachSession(func(r *session) {
		oldV := r.id == target.id || r.visible(oldCh)
		newV := r.id == target.id || r.visible(newCh)
		if !oldV && !newV {
			return
		}
		visibility := wire.VisibilityRetain
		var vals map[property.ClientKey]property.Value
		switch {
		case oldV && !newV:
			visibility = wire.VisibilityLeave
		case !oldV && newV:
			visibility = wire.VisibilityEnter
			vals = values
		}
		env, _ := wire.New(wire.TypeClientMoved, wire.ClientMoved{
			Client:     target.id,
			OldChannel: oldCh,
			NewChannel: newCh,
			Visibility: visibility,
			Reason:     reason,
			Invoker:    invoker,
			Message:    message,
			Values:     vals,
		})
		r.send(env)
	})

	// Occupants of the new channel that just became visible to the mover.
	vs.eachSession(func(other *session) {
		if other.id == target.id || other.currentChannel() != newCh {
			return
		}
		env, _ := wire.New(wire.TypeClientEnter, wire.ClientEnter{
			Client:     other.id,
			Channel:    newCh,
			Values:     other.propsSnapshot(),
			Visibility: wire.VisibilityEnter,
		})
		target.send(env)
	})
}

func (vs *VirtualServer) stop(message string) {
	vs.mu.Lock()
	vs.stopped = true
	sessions := make([]*session, 0, len(vs.sessions))
	for id, s := range vs.sessions {
		sessions = append(sessions, s)
		delete(vs.sessions, id)
	}
	vs.mu.Unlock()

	env, _ := wire.New(wire.TypeServerStop, wire.ServerStop{Message: message})
	for _, s := range sessions {
		s.send(env)
		s.close()
	}
}

func (vs *VirtualServer) dropUploadsOf(id shared.ClientID) {
	vs.mu.Lock()
	for key, up := range vs.uploads {
		if up.owner == id {
			up.w.Close()
			delete(vs.uploads, key)
		}
	}
	vs.mu.Unlock()
}

func (s *session) name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickname
}

func (s *session) setName(nickname string) {
	s.mu.Lock()
	s.nickname = nickname
	s.mu.Unlock()
}

func (s *session) invoker() *wire.Invoker {
	return &wire.Invoker{ID: s.id, Name: s.name(), UID: s.uid}
}

// publish mirrors a notification to the cross-node relay when one is
// configured.
func (vs *VirtualServer) publish(env *wire.Envelope) {
	if vs.lib.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := vs.lib.relay.Publish(ctx, vs.id, env); err != nil {
		vs.logger.Debug("relay publish failed", "error", err)
	}
}

func (vs *VirtualServer) channelExists(id shared.ChannelID) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	_, ok := vs.channels[id]
	return ok
}

func (vs *VirtualServer) channelProps(id shared.ChannelID) (map[property.ChannelKey]property.Value, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	ch, ok := vs.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %d: %w", id, shared.CodeNotFound)
	}
	return ch.props.Snapshot(), nil
}

// isDescendant reports whether candidate sits under root in the tree.
func (vs *VirtualServer) isDescendant(root, candidate shared.ChannelID) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	for candidate != 0 {
		ch, ok := vs.channels[candidate]
		if !ok {
			return false
		}
		if ch.parent == root {
			return true
		}
		candidate = ch.parent
	}
	return false
}

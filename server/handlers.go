package server

import (
	"time"

	"github.com/accordvoice/accord/internal/permission"
	"github.com/accordvoice/accord/internal/property"
	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/wire"
)

// handle dispatches one client request. Every mutating or disclosing
// path checks the permission gate before touching state; a denied
// request replies with the deny code and changes nothing.
func (vs *VirtualServer) handle(sess *session, env *wire.Envelope) {
	switch env.T {
	case wire.TypeDisconnect:
		var req wire.Disconnect
		env.Decode(&req)
		vs.detach(sess, wire.MoveReasonSelf, req.QuitMessage)

	case wire.TypeFlushSelf:
		vs.handleFlushSelf(sess, env)
	case wire.TypeFlushServer:
		vs.handleFlushServer(sess, env)
	case wire.TypeFlushChannel:
		vs.handleFlushChannel(sess, env)
	case wire.TypeChannelCreate:
		vs.handleChannelCreate(sess, env)
	case wire.TypeChannelDelete:
		vs.handleChannelDelete(sess, env)
	case wire.TypeChannelMove:
		vs.handleChannelMove(sess, env)
	case wire.TypeClientMove:
		vs.handleClientMove(sess, env)
	case wire.TypeClientKick:
		vs.handleClientKick(sess, env)
	case wire.TypeTextMessage:
		vs.handleTextMessage(sess, env)
	case wire.TypeSubscribe:
		vs.handleSubscribe(sess, env, true)
	case wire.TypeUnsubscribe:
		vs.handleSubscribe(sess, env, false)
	case wire.TypeServerVars:
		vs.handleServerVars(sess, env)
	case wire.TypeClientVars:
		vs.handleClientVars(sess, env)
	case wire.TypeConnInfo:
		vs.handleConnInfo(sess, env)
	case wire.TypeTalkStatus:
		vs.handleTalkStatus(sess, env)
	case wire.TypeAuthToken:
		vs.handleAuthToken(sess, env)

	case wire.TypeFTUpload:
		vs.handleFTUpload(sess, env)
	case wire.TypeFTDownload:
		vs.handleFTDownload(sess, env)
	case wire.TypeFTData:
		vs.handleFTData(sess, env)
	case wire.TypeFTHalt:
		vs.handleFTHalt(sess, env)
	case wire.TypeFTList:
		vs.handleFTList(sess, env)
	case wire.TypeFTInfo:
		vs.handleFTInfo(sess, env)
	case wire.TypeFTDelete:
		vs.handleFTDelete(sess, env)
	case wire.TypeFTMkdir:
		vs.handleFTMkdir(sess, env)
	case wire.TypeFTRename:
		vs.handleFTRename(sess, env)

	default:
		vs.logger.Warn("unknown request type", "type", env.T, "client_id", sess.id)
	}
}

// reply sends the correlated outcome of one request. Successful
// fire-and-forget requests stay silent; failures always surface.
func (vs *VirtualServer) reply(sess *session, token string, err error) {
	code := shared.CodeOK
	if err != nil {
		code = shared.CodeOf(err)
	}
	if token == "" && code == shared.CodeOK {
		return
	}
	env, _ := wire.New(wire.TypeReply, wire.Reply{
		Token:   token,
		Code:    code,
		Message: code.Message(),
	})
	sess.send(env)
}

func validateClientValues(values map[property.ClientKey]property.Value) error {
	for k, v := range values {
		if !k.Valid() {
			return shared.CodeInvalidArgument
		}
		if k.ReadOnly() {
			return shared.CodeReadOnly
		}
		if v.Kind() != k.Kind() {
			return shared.CodeTypeMismatch
		}
	}
	return nil
}

func validateServerValues(values map[property.ServerKey]property.Value) error {
	for k, v := range values {
		if !k.Valid() {
			return shared.CodeInvalidArgument
		}
		if k.ReadOnly() {
			return shared.CodeReadOnly
		}
		if v.Kind() != k.Kind() {
			return shared.CodeTypeMismatch
		}
	}
	return nil
}

func validateChannelValues(values map[property.ChannelKey]property.Value) error {
	for k, v := range values {
		if !k.Valid() {
			return shared.CodeInvalidArgument
		}
		if k.ReadOnly() {
			return shared.CodeReadOnly
		}
		if v.Kind() != k.Kind() {
			return shared.CodeTypeMismatch
		}
	}
	return nil
}

func (vs *VirtualServer) handleFlushSelf(sess *session, env *wire.Envelope) {
	var req wire.FlushSelf
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	if err := validateClientValues(req.Values); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}
	if err := vs.lib.gate.Check(permission.Request{
		Server:  vs.id,
		Action:  permission.ActionClientUpdate,
		Actor:   sess.actor(),
		Targets: []shared.ClientID{sess.id},
	}); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	if err := sess.applyProps(req.Values); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}
	if nick, ok := req.Values[property.ClientNickname]; ok {
		if n, err := nick.AsString(); err == nil && n != "" {
			sess.setName(n)
		}
	}

	update, _ := wire.New(wire.TypeClientUpdated, wire.ClientUpdated{
		Client:  sess.id,
		Values:  req.Values,
		Invoker: sess.invoker(),
	})
	ch := sess.currentChannel()
	vs.eachSession(func(r *session) {
		if r.id == sess.id || r.visible(ch) {
			r.send(update)
		}
	})
	vs.reply(sess, req.Token, nil)
}

func (vs *VirtualServer) handleFlushServer(sess *session, env *wire.Envelope) {
	var req wire.FlushServer
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	if err := validateServerValues(req.Values); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}
	if err := vs.lib.gate.Check(permission.Request{
		Server: vs.id,
		Action: permission.ActionServerEdit,
		Actor:  sess.actor(),
	}); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	vs.mu.Lock()
	if err := vs.props.Apply(req.Values); err != nil {
		vs.mu.Unlock()
		vs.reply(sess, req.Token, err)
		return
	}
	if pw, ok := req.Values[property.ServerPassword]; ok {
		vs.password, _ = pw.AsString()
	}
	snapshot := vs.props.Snapshot()
	name, _ := snapshot[property.ServerName].AsString()
	vs.mu.Unlock()

	if vs.lib.persist != nil {
		if err := vs.lib.persist.SaveServer(vs.id, name, snapshot); err != nil {
			vs.logger.Error("failed to persist server", "error", err)
		}
	}

	edited, _ := wire.New(wire.TypeServerEdited, wire.ServerEdited{
		Values:  req.Values,
		Invoker: sess.invoker(),
	})
	vs.eachSession(func(r *session) { r.send(edited) })
	vs.publish(edited)
	vs.reply(sess, req.Token, nil)
}

func (vs *VirtualServer) handleFlushChannel(sess *session, env *wire.Envelope) {
	var req wire.FlushChannel
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	if err := validateChannelValues(req.Values); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}
	if !vs.channelExists(req.Channel) {
		vs.reply(sess, req.Token, shared.CodeNotFound)
		return
	}
	if err := vs.lib.gate.Check(permission.Request{
		Server:  vs.id,
		Action:  permission.ActionChannelEdit,
		Actor:   sess.actor(),
		Channel: req.Channel,
	}); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	vs.mu.Lock()
	ch, ok := vs.channels[req.Channel]
	if !ok {
		vs.mu.Unlock()
		vs.reply(sess, req.Token, shared.CodeNotFound)
		return
	}
	if err := ch.props.Apply(req.Values); err != nil {
		vs.mu.Unlock()
		vs.reply(sess, req.Token, err)
		return
	}
	if pw, ok := req.Values[property.ChannelPassword]; ok {
		hasPassword := 0
		if p, _ := pw.AsString(); p != "" {
			hasPassword = 1
		}
		ch.props.Set(property.ChannelFlagPassword, property.Int(hasPassword))
	}
	snapshot := ch.props.Snapshot()
	parent := ch.parent
	vs.mu.Unlock()

	if vs.lib.persist != nil {
		if err := vs.lib.persist.SaveChannel(vs.id, req.Channel, parent, snapshot); err != nil {
			vs.logger.Error("failed to persist channel", "channel_id", req.Channel, "error", err)
		}
	}

	edited, _ := wire.New(wire.TypeChannelEdited, wire.ChannelEdited{
		Channel: req.Channel,
		Values:  publicChannelProps(req.Values),
		Invoker: sess.invoker(),
	})
	vs.eachSession(func(r *session) { r.send(edited) })
	vs.publish(edited)
	vs.reply(sess, req.Token, nil)
}

func (vs *VirtualServer) handleChannelCreate(sess *session, env *wire.Envelope) {
	var req wire.ChannelCreate
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	if err := validateChannelValues(req.Values); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}
	if err := vs.lib.gate.Check(permission.Request{
		Server:  vs.id,
		Action:  permission.ActionChannelCreate,
		Actor:   sess.actor(),
		Channel: req.Parent,
	}); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	id, err := vs.createChannel(req.Parent, req.Values)
	if err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	values := publicChannelProps(req.Values)
	vs.eachSession(func(r *session) {
		provisional := shared.ChannelID(0)
		if r.id == sess.id {
			provisional = req.Provisional
		}
		created, _ := wire.New(wire.TypeChannelCreated, wire.ChannelCreated{
			Provisional: provisional,
			Channel:     id,
			Parent:      req.Parent,
			Values:      values,
			Invoker:     sess.invoker(),
		})
		r.send(created)
	})
	vs.reply(sess, req.Token, nil)
}

func (vs *VirtualServer) handleChannelDelete(sess *session, env *wire.Envelope) {
	var req wire.ChannelDelete
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	if !vs.channelExists(req.Channel) {
		vs.reply(sess, req.Token, shared.CodeNotFound)
		return
	}
	if err := vs.lib.gate.Check(permission.Request{
		Server:  vs.id,
		Action:  permission.ActionChannelDelete,
		Actor:   sess.actor(),
		Channel: req.Channel,
	}); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	// The whole subtree goes; occupants block deletion unless forced.
	subtree := vs.subtree(req.Channel)
	var occupants []*session
	vs.eachSession(func(r *session) {
		for _, ch := range subtree {
			if r.currentChannel() == ch {
				occupants = append(occupants, r)
				return
			}
		}
	})
	if len(occupants) > 0 && !req.Force {
		vs.reply(sess, req.Token, shared.CodeChannelNotEmpty)
		return
	}

	fallback := shared.ChannelID(0)
	if len(occupants) > 0 {
		fallback = vs.defaultChannelOutside(subtree)
	}
	for _, r := range occupants {
		vs.moveClient(r, fallback, wire.MoveReasonKickChannel, sess.invoker(), "channel deleted")
	}

	// Children before parents so every deletion refers to a live parent
	// on the receiving side.
	for i := len(subtree) - 1; i >= 0; i-- {
		ch := subtree[i]
		vs.mu.Lock()
		delete(vs.channels, ch)
		vs.props.Set(property.ServerChannelsOnline, property.Int(len(vs.channels)))
		vs.mu.Unlock()

		if vs.lib.persist != nil {
			vs.lib.persist.DeleteChannel(vs.id, ch)
		}
		deleted, _ := wire.New(wire.TypeChannelDeleted, wire.ChannelDeleted{
			Channel: ch,
			Invoker: sess.invoker(),
		})
		vs.eachSession(func(r *session) { r.send(deleted) })
		vs.publish(deleted)
	}
	vs.reply(sess, req.Token, nil)
}

// subtree returns the channel and all its descendants, parents first.
func (vs *VirtualServer) subtree(root shared.ChannelID) []shared.ChannelID {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	out := []shared.ChannelID{root}
	for i := 0; i < len(out); i++ {
		for id, ch := range vs.channels {
			if ch.parent == out[i] {
				out = append(out, id)
			}
		}
	}
	return out
}

// defaultChannelOutside picks the landing channel for displaced clients,
// avoiding the subtree being deleted.
func (vs *VirtualServer) defaultChannelOutside(excluded []shared.ChannelID) shared.ChannelID {
	def := vs.defaultChannel()
	for _, ch := range excluded {
		if def == ch {
			def = 0
			break
		}
	}
	if def != 0 {
		return def
	}

	vs.mu.RLock()
	defer vs.mu.RUnlock()
outer:
	for id := range vs.channels {
		for _, ch := range excluded {
			if id == ch {
				continue outer
			}
		}
		if def == 0 || id < def {
			def = id
		}
	}
	return def
}

func (vs *VirtualServer) handleChannelMove(sess *session, env *wire.Envelope) {
	var req wire.ChannelMove
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	if !vs.channelExists(req.Channel) {
		vs.reply(sess, req.Token, shared.CodeNotFound)
		return
	}
	if req.NewParent != 0 && !vs.channelExists(req.NewParent) {
		vs.reply(sess, req.Token, shared.CodeParentNotFound)
		return
	}
	if req.NewParent == req.Channel || vs.isDescendant(req.Channel, req.NewParent) {
		vs.reply(sess, req.Token, shared.CodeInvalidArgument)
		return
	}
	if err := vs.lib.gate.Check(permission.Request{
		Server:  vs.id,
		Action:  permission.ActionChannelMove,
		Actor:   sess.actor(),
		Channel: req.Channel,
	}); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	vs.mu.Lock()
	ch := vs.channels[req.Channel]
	ch.parent = req.NewParent
	if req.Order != 0 {
		ch.props.Set(property.ChannelOrder, property.Uint64(req.Order))
	}
	snapshot := ch.props.Snapshot()
	vs.mu.Unlock()

	if vs.lib.persist != nil {
		if err := vs.lib.persist.SaveChannel(vs.id, req.Channel, req.NewParent, snapshot); err != nil {
			vs.logger.Error("failed to persist channel", "channel_id", req.Channel, "error", err)
		}
	}

	moved, _ := wire.New(wire.TypeChannelMoved, wire.ChannelMoved{
		Channel:   req.Channel,
		NewParent: req.NewParent,
		Invoker:   sess.invoker(),
	})
	vs.eachSession(func(r *session) { r.send(moved) })
	vs.publish(moved)
	vs.reply(sess, req.Token, nil)
}

func (vs *VirtualServer) handleClientMove(sess *session, env *wire.Envelope) {
	var req wire.ClientMove
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	if !vs.channelExists(req.Channel) {
		vs.reply(sess, req.Token, shared.CodeNotFound)
		return
	}

	targets := make([]*session, 0, len(req.Targets))
	for _, id := range req.Targets {
		target, ok := vs.session(id)
		if !ok {
			vs.reply(sess, req.Token, shared.CodeNotFound)
			return
		}
		targets = append(targets, target)
	}
	if len(targets) == 0 {
		vs.reply(sess, req.Token, shared.CodeInvalidArgument)
		return
	}

	if err := vs.checkChannelPassword(req.Channel, req.Password, sess); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}
	if err := vs.checkChannelCapacity(req.Channel, len(targets)); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}
	if err := vs.lib.gate.Check(permission.Request{
		Server:  vs.id,
		Action:  permission.ActionClientMove,
		Actor:   sess.actor(),
		Targets: req.Targets,
		Channel: req.Channel,
	}); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	for _, target := range targets {
		reason := wire.MoveReasonMoved
		var invoker *wire.Invoker
		if target.id == sess.id {
			reason = wire.MoveReasonSelf
		} else {
			invoker = sess.invoker()
		}
		vs.moveClient(target, req.Channel, reason, invoker, "")
	}
	vs.reply(sess, req.Token, nil)
}

// checkChannelPassword verifies a join candidate against the channel's
// password, with the gate consulted so custom policy can override.
func (vs *VirtualServer) checkChannelPassword(ch shared.ChannelID, candidate string, sess *session) error {
	props, err := vs.channelProps(ch)
	if err != nil {
		return err
	}

	stored := ""
	if v, ok := props[property.ChannelPassword]; ok {
		stored, _ = v.AsString()
	}
	if stored == "" {
		return nil
	}

	transformed := vs.lib.encrypt(candidate)
	if err := vs.lib.gate.Check(permission.Request{
		Server:   vs.id,
		Action:   permission.ActionChannelPasswordCheck,
		Actor:    sess.actor(),
		Channel:  ch,
		Password: transformed,
	}); err != nil {
		return err
	}
	if transformed != vs.lib.encrypt(stored) {
		return shared.CodeChannelPasswordWrong
	}
	return nil
}

func (vs *VirtualServer) checkChannelCapacity(ch shared.ChannelID, joining int) error {
	props, err := vs.channelProps(ch)
	if err != nil {
		return err
	}

	max := 0
	if v, ok := props[property.ChannelMaxClients]; ok {
		max, _ = v.AsInt()
	}
	if max <= 0 {
		return nil
	}

	occupants := 0
	vs.eachSession(func(r *session) {
		if r.currentChannel() == ch {
			occupants++
		}
	})
	if occupants+joining > max {
		return shared.CodeMaxClientsReached
	}
	return nil
}

func (vs *VirtualServer) handleClientKick(sess *session, env *wire.Envelope) {
	var req wire.ClientKick
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}

	targets := make([]*session, 0, len(req.Targets))
	for _, id := range req.Targets {
		target, ok := vs.session(id)
		if !ok {
			vs.reply(sess, req.Token, shared.CodeNotFound)
			return
		}
		targets = append(targets, target)
	}
	if len(targets) == 0 {
		vs.reply(sess, req.Token, shared.CodeInvalidArgument)
		return
	}

	action := permission.ActionClientKickFromChannel
	if req.FromServer {
		action = permission.ActionClientKickFromServer
	}
	if err := vs.lib.gate.Check(permission.Request{
		Server:  vs.id,
		Action:  action,
		Actor:   sess.actor(),
		Targets: req.Targets,
		Reason:  req.Reason,
	}); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	for _, target := range targets {
		if req.FromServer {
			vs.detach(target, wire.MoveReasonKickServer, req.Reason)
			continue
		}
		fallback := vs.defaultChannel()
		if target.currentChannel() != fallback {
			vs.moveClient(target, fallback, wire.MoveReasonKickChannel, sess.invoker(), req.Reason)
		}
	}
	vs.reply(sess, req.Token, nil)
}

func (vs *VirtualServer) handleTextMessage(sess *session, env *wire.Envelope) {
	var req wire.TextMessage
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	if req.Message == "" {
		vs.reply(sess, req.Token, shared.CodeInvalidArgument)
		return
	}
	if err := vs.lib.gate.Check(permission.Request{
		Server:  vs.id,
		Action:  permission.ActionTextMessage,
		Actor:   sess.actor(),
		Targets: []shared.ClientID{req.Client},
		Channel: req.Channel,
		Text:    req.Message,
	}); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	arrived, _ := wire.New(wire.TypeTextArrived, wire.TextArrived{
		Target:   req.Target,
		Client:   req.Client,
		Channel:  req.Channel,
		From:     sess.id,
		FromName: sess.name(),
		FromUID:  sess.uid,
		Message:  req.Message,
	})

	switch req.Target {
	case wire.TextTargetClient:
		target, ok := vs.session(req.Client)
		if !ok {
			vs.reply(sess, req.Token, shared.CodeNotFound)
			return
		}
		target.send(arrived)

	case wire.TextTargetChannel:
		ch := req.Channel
		if ch == 0 {
			ch = sess.currentChannel()
		}
		vs.eachSession(func(r *session) {
			if r.currentChannel() == ch {
				r.send(arrived)
			}
		})

	case wire.TextTargetServer:
		vs.eachSession(func(r *session) { r.send(arrived) })

	default:
		vs.reply(sess, req.Token, shared.CodeInvalidArgument)
		return
	}
	vs.reply(sess, req.Token, nil)
}

func (vs *VirtualServer) handleSubscribe(sess *session, env *wire.Envelope, subscribe bool) {
	var req wire.Subscribe
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}

	for _, ch := range req.Channels {
		if !vs.channelExists(ch) {
			vs.reply(sess, req.Token, shared.CodeNotFound)
			return
		}
	}
	if subscribe {
		for _, ch := range req.Channels {
			if err := vs.lib.gate.Check(permission.Request{
				Server:  vs.id,
				Action:  permission.ActionChannelSubscribe,
				Actor:   sess.actor(),
				Channel: ch,
			}); err != nil {
				vs.reply(sess, req.Token, err)
				return
			}
		}
	}

	for _, ch := range req.Channels {
		if subscribe {
			alreadyVisible := sess.visible(ch)
			sess.subscribe(ch)
			confirm, _ := wire.New(wire.TypeSubConfirm, wire.SubConfirm{Channel: ch})
			sess.send(confirm)

			if alreadyVisible {
				continue
			}
			vs.eachSession(func(other *session) {
				if other.id == sess.id || other.currentChannel() != ch {
					return
				}
				enter, _ := wire.New(wire.TypeClientEnter, wire.ClientEnter{
					Client:     other.id,
					Channel:    ch,
					Values:     other.propsSnapshot(),
					Visibility: wire.VisibilityEnter,
				})
				sess.send(enter)
			})
		} else {
			sess.unsubscribe(ch)
			confirm, _ := wire.New(wire.TypeUnsubConfirm, wire.SubConfirm{Channel: ch})
			sess.send(confirm)
		}
	}
	vs.reply(sess, req.Token, nil)
}

func (vs *VirtualServer) handleServerVars(sess *session, env *wire.Envelope) {
	var req wire.VarsRequest
	env.Decode(&req)

	vs.mu.RLock()
	snapshot := vs.props.Snapshot()
	uptime := uint64(time.Since(vs.created).Seconds())
	vs.mu.RUnlock()
	snapshot[property.ServerUptime] = property.Uint64(uptime)

	edited, _ := wire.New(wire.TypeServerEdited, wire.ServerEdited{Values: snapshot})
	sess.send(edited)
	vs.reply(sess, req.Token, nil)
}

func (vs *VirtualServer) handleClientVars(sess *session, env *wire.Envelope) {
	var req wire.VarsRequest
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	target, ok := vs.session(req.Client)
	if !ok {
		vs.reply(sess, req.Token, shared.CodeNotFound)
		return
	}

	update, _ := wire.New(wire.TypeClientUpdated, wire.ClientUpdated{
		Client: target.id,
		Values: target.propsSnapshot(),
	})
	sess.send(update)
	vs.reply(sess, req.Token, nil)
}

func (vs *VirtualServer) handleConnInfo(sess *session, env *wire.Envelope) {
	var req wire.ConnInfo
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	target, ok := vs.session(req.Client)
	if !ok {
		vs.reply(sess, req.Token, shared.CodeNotFound)
		return
	}
	if err := vs.lib.gate.Check(permission.Request{
		Server:  vs.id,
		Action:  permission.ActionConnectionInfo,
		Actor:   sess.actor(),
		Targets: []shared.ClientID{req.Client},
	}); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	result, _ := wire.New(wire.TypeConnInfoResult, wire.ConnInfoResult{
		Client: target.id,
		Info: shared.StringMap{
			"client_uid":      target.uid,
			"client_nickname": target.name(),
		},
	})
	sess.send(result)
	vs.reply(sess, req.Token, nil)
}

func (vs *VirtualServer) handleTalkStatus(sess *session, env *wire.Envelope) {
	var req wire.TalkStatus
	if err := env.Decode(&req); err != nil {
		return
	}

	talking := 0
	if req.Talking {
		talking = 1
	}
	sess.setProp(property.ClientFlagTalking, property.Int(talking))

	changed, _ := wire.New(wire.TypeTalkChanged, wire.TalkChanged{
		Client:  sess.id,
		Talking: req.Talking,
	})
	ch := sess.currentChannel()
	vs.eachSession(func(r *session) {
		if r.id == sess.id || r.visible(ch) {
			r.send(changed)
		}
	})
}

func (vs *VirtualServer) handleAuthToken(sess *session, env *wire.Envelope) {
	var req wire.AuthTokenRequest
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}

	token, err := vs.lib.issuer.Issue(vs.id, sess.uid, sess.name())
	if err != nil {
		vs.reply(sess, req.Token, shared.CodeUndefined)
		return
	}

	issued, _ := wire.New(wire.TypeAuthTokenIssued, wire.AuthTokenIssued{
		Kind:  req.Kind,
		Token: token,
	})
	sess.send(issued)
	vs.reply(sess, req.Token, nil)
}

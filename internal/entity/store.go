package entity

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/accordvoice/accord/internal/property"
	"github.com/accordvoice/accord/internal/shared"
)

// provisionalBase keeps locally assigned channel IDs out of the range the
// server allocates from, so a provisional entity can never shadow a
// confirmed one.
const provisionalBase shared.ChannelID = 1 << 62

type channelRecord struct {
	id          shared.ChannelID
	parent      shared.ChannelID
	props       property.Table[property.ChannelKey]
	provisional bool
}

type clientRecord struct {
	id      shared.ClientID
	channel shared.ChannelID
	props   property.Table[property.ClientKey]
}

// Store holds the entity tree of one connection: one server, the visible
// channels, and the visible clients. Entities appear when the remote peer
// announces them and disappear when it removes them; destroyed IDs fail
// fast with CodeNotFound instead of serving stale data.
type Store struct {
	mu       sync.RWMutex
	server   property.Table[property.ServerKey]
	channels map[shared.ChannelID]*channelRecord
	clients  map[shared.ClientID]*clientRecord
	self     shared.ClientID
	nextProv shared.ChannelID
	logger   *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	return &Store{
		server:   property.NewTable[property.ServerKey](),
		channels: make(map[shared.ChannelID]*channelRecord),
		clients:  make(map[shared.ClientID]*clientRecord),
		nextProv: provisionalBase,
		logger:   logger.With("component", "entity_store"),
	}
}

// SetSelf distinguishes the local client entity; its edits originate
// locally rather than from the remote peer.
func (s *Store) SetSelf(id shared.ClientID) {
	s.mu.Lock()
	s.self = id
	s.mu.Unlock()
}

func (s *Store) Self() shared.ClientID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// Reset drops every entity, for connection teardown and reconnect.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.server = property.NewTable[property.ServerKey]()
	s.channels = make(map[shared.ChannelID]*channelRecord)
	s.clients = make(map[shared.ClientID]*clientRecord)
	s.self = 0
}

// CreateChannel records a channel announced by the remote peer.
func (s *Store) CreateChannel(id, parent shared.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.channels[id]; exists {
		return
	}
	s.channels[id] = &channelRecord{id: id, parent: parent, props: property.NewTable[property.ChannelKey]()}
}

// CreateProvisionalChannel assigns a fresh local ID for an optimistic
// channel creation. The entity exists locally with the staged properties
// while the remote acknowledgement is pending.
func (s *Store) CreateProvisionalChannel(parent shared.ChannelID, props map[property.ChannelKey]property.Value) (shared.ChannelID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextProv
	s.nextProv++

	rec := &channelRecord{id: id, parent: parent, props: property.NewTable[property.ChannelKey](), provisional: true}
	if err := rec.props.Apply(props); err != nil {
		return 0, err
	}
	s.channels[id] = rec
	return id, nil
}

// PromoteChannel re-keys a provisional channel to the ID the server
// assigned. The provisional ID becomes stale immediately.
func (s *Store) PromoteChannel(provisional, confirmed shared.ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.channels[provisional]
	if !ok || !rec.provisional {
		return fmt.Errorf("promote channel %d: %w", provisional, shared.CodeNotFound)
	}
	delete(s.channels, provisional)
	rec.id = confirmed
	rec.provisional = false
	s.channels[confirmed] = rec
	return nil
}

// RollbackChannel destroys a provisional channel after the remote peer
// rejected its creation.
func (s *Store) RollbackChannel(provisional shared.ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.channels[provisional]
	if !ok || !rec.provisional {
		return fmt.Errorf("rollback channel %d: %w", provisional, shared.CodeNotFound)
	}
	delete(s.channels, provisional)
	return nil
}

func (s *Store) ChannelProvisional(id shared.ChannelID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.channels[id]
	return ok && rec.provisional
}

func (s *Store) DestroyChannel(id shared.ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[id]; !ok {
		return fmt.Errorf("destroy channel %d: %w", id, shared.CodeNotFound)
	}
	delete(s.channels, id)
	return nil
}

func (s *Store) HasChannel(id shared.ChannelID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[id]
	return ok
}

func (s *Store) MoveChannel(id, newParent shared.ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.channels[id]
	if !ok {
		return fmt.Errorf("move channel %d: %w", id, shared.CodeNotFound)
	}
	rec.parent = newParent
	return nil
}

func (s *Store) CreateClient(id shared.ClientID, channel shared.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clients[id]; exists {
		return
	}
	s.clients[id] = &clientRecord{id: id, channel: channel, props: property.NewTable[property.ClientKey]()}
}

func (s *Store) DestroyClient(id shared.ClientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[id]; !ok {
		return fmt.Errorf("destroy client %d: %w", id, shared.CodeNotFound)
	}
	delete(s.clients, id)
	return nil
}

func (s *Store) HasClient(id shared.ClientID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[id]
	return ok
}

func (s *Store) MoveClient(id shared.ClientID, channel shared.ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.clients[id]
	if !ok {
		return fmt.Errorf("move client %d: %w", id, shared.CodeNotFound)
	}
	rec.channel = channel
	return nil
}

// ApplyServerUpdate overwrites server properties with remote values and
// reports a malformed batch without partially applying it.
func (s *Store) ApplyServerUpdate(values map[property.ServerKey]property.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server.Apply(values)
}

func (s *Store) ApplyChannelUpdate(id shared.ChannelID, values map[property.ChannelKey]property.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.channels[id]
	if !ok {
		return fmt.Errorf("update channel %d: %w", id, shared.CodeNotFound)
	}
	return rec.props.Apply(values)
}

func (s *Store) ApplyClientUpdate(id shared.ClientID, values map[property.ClientKey]property.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.clients[id]
	if !ok {
		return fmt.Errorf("update client %d: %w", id, shared.CodeNotFound)
	}
	return rec.props.Apply(values)
}

func (s *Store) serverValue(key property.ServerKey) (property.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server.Get(key)
}

func (s *Store) channelValue(id shared.ChannelID, key property.ChannelKey) (property.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.channels[id]
	if !ok {
		return property.Value{}, fmt.Errorf("channel %d: %w", id, shared.CodeNotFound)
	}
	return rec.props.Get(key)
}

func (s *Store) clientValue(id shared.ClientID, key property.ClientKey) (property.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.clients[id]
	if !ok {
		return property.Value{}, fmt.Errorf("client %d: %w", id, shared.CodeNotFound)
	}
	return rec.props.Get(key)
}

func (s *Store) ServerInt(key property.ServerKey) (int, error) {
	v, err := s.serverValue(key)
	if err != nil {
		return 0, err
	}
	return v.AsInt()
}

func (s *Store) ServerUint64(key property.ServerKey) (uint64, error) {
	v, err := s.serverValue(key)
	if err != nil {
		return 0, err
	}
	return v.AsUint64()
}

func (s *Store) ServerString(key property.ServerKey) (string, error) {
	v, err := s.serverValue(key)
	if err != nil {
		return "", err
	}
	return v.AsString()
}

func (s *Store) ChannelInt(id shared.ChannelID, key property.ChannelKey) (int, error) {
	v, err := s.channelValue(id, key)
	if err != nil {
		return 0, err
	}
	return v.AsInt()
}

func (s *Store) ChannelUint64(id shared.ChannelID, key property.ChannelKey) (uint64, error) {
	v, err := s.channelValue(id, key)
	if err != nil {
		return 0, err
	}
	return v.AsUint64()
}

func (s *Store) ChannelString(id shared.ChannelID, key property.ChannelKey) (string, error) {
	v, err := s.channelValue(id, key)
	if err != nil {
		return "", err
	}
	return v.AsString()
}

func (s *Store) ClientInt(id shared.ClientID, key property.ClientKey) (int, error) {
	v, err := s.clientValue(id, key)
	if err != nil {
		return 0, err
	}
	return v.AsInt()
}

func (s *Store) ClientUint64(id shared.ClientID, key property.ClientKey) (uint64, error) {
	v, err := s.clientValue(id, key)
	if err != nil {
		return 0, err
	}
	return v.AsUint64()
}

func (s *Store) ClientString(id shared.ClientID, key property.ClientKey) (string, error) {
	v, err := s.clientValue(id, key)
	if err != nil {
		return "", err
	}
	return v.AsString()
}

func (s *Store) ChannelParent(id shared.ChannelID) (shared.ChannelID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.channels[id]
	if !ok {
		return 0, fmt.Errorf("channel %d: %w", id, shared.CodeNotFound)
	}
	return rec.parent, nil
}

func (s *Store) ClientChannel(id shared.ClientID) (shared.ChannelID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.clients[id]
	if !ok {
		return 0, fmt.Errorf("client %d: %w", id, shared.CodeNotFound)
	}
	return rec.channel, nil
}

func (s *Store) Channels() []shared.ChannelID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]shared.ChannelID, 0, len(s.channels))
	for id := range s.channels {
		out = append(out, id)
	}
	return out
}

func (s *Store) Clients() []shared.ClientID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]shared.ClientID, 0, len(s.clients))
	for id := range s.clients {
		out = append(out, id)
	}
	return out
}

func (s *Store) ChannelClients(ch shared.ChannelID) []shared.ClientID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []shared.ClientID
	for id, rec := range s.clients {
		if rec.channel == ch {
			out = append(out, id)
		}
	}
	return out
}

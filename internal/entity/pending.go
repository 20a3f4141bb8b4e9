package entity

import (
	"fmt"
	"sync"

	"github.com/accordvoice/accord/internal/property"
	"github.com/accordvoice/accord/internal/shared"
)

// Pending is the per-connection staging area for local edits. Staged
// values never show through Get until the flush resolves: the server is
// authoritative and may reject or alter any change, so read-after-write is
// deliberately not guaranteed before flush.
type Pending struct {
	mu       sync.Mutex
	self     map[property.ClientKey]property.Value
	server   map[property.ServerKey]property.Value
	channels map[shared.ChannelID]map[property.ChannelKey]property.Value
}

func NewPending() *Pending {
	return &Pending{
		self:     make(map[property.ClientKey]property.Value),
		server:   make(map[property.ServerKey]property.Value),
		channels: make(map[shared.ChannelID]map[property.ChannelKey]property.Value),
	}
}

func (p *Pending) StageSelf(key property.ClientKey, value property.Value) error {
	if !key.Valid() {
		return fmt.Errorf("stage self %v: %w", key, shared.CodeInvalidArgument)
	}
	if key.ReadOnly() {
		return fmt.Errorf("stage self %v: %w", key, shared.CodeReadOnly)
	}
	if value.Kind() != key.Kind() {
		return fmt.Errorf("stage self %v as %v: %w", key, value.Kind(), shared.CodeTypeMismatch)
	}

	p.mu.Lock()
	p.self[key] = value
	p.mu.Unlock()
	return nil
}

func (p *Pending) StageServer(key property.ServerKey, value property.Value) error {
	if !key.Valid() {
		return fmt.Errorf("stage server %v: %w", key, shared.CodeInvalidArgument)
	}
	if key.ReadOnly() {
		return fmt.Errorf("stage server %v: %w", key, shared.CodeReadOnly)
	}
	if value.Kind() != key.Kind() {
		return fmt.Errorf("stage server %v as %v: %w", key, value.Kind(), shared.CodeTypeMismatch)
	}

	p.mu.Lock()
	p.server[key] = value
	p.mu.Unlock()
	return nil
}

func (p *Pending) StageChannel(ch shared.ChannelID, key property.ChannelKey, value property.Value) error {
	if !key.Valid() {
		return fmt.Errorf("stage channel %v: %w", key, shared.CodeInvalidArgument)
	}
	if key.ReadOnly() {
		return fmt.Errorf("stage channel %v: %w", key, shared.CodeReadOnly)
	}
	if value.Kind() != key.Kind() {
		return fmt.Errorf("stage channel %v as %v: %w", key, value.Kind(), shared.CodeTypeMismatch)
	}

	p.mu.Lock()
	edits, ok := p.channels[ch]
	if !ok {
		edits = make(map[property.ChannelKey]property.Value)
		p.channels[ch] = edits
	}
	edits[key] = value
	p.mu.Unlock()
	return nil
}

// TakeSelf drains the self staging set atomically; the flush request
// carries exactly this batch or nothing.
func (p *Pending) TakeSelf() map[property.ClientKey]property.Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.self
	p.self = make(map[property.ClientKey]property.Value)
	return out
}

func (p *Pending) TakeServer() map[property.ServerKey]property.Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.server
	p.server = make(map[property.ServerKey]property.Value)
	return out
}

func (p *Pending) TakeChannel(ch shared.ChannelID) map[property.ChannelKey]property.Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.channels[ch]
	delete(p.channels, ch)
	if out == nil {
		out = make(map[property.ChannelKey]property.Value)
	}
	return out
}

// ChannelStaged reports whether ch has staged edits, without draining.
func (p *Pending) ChannelStaged(ch shared.ChannelID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.channels[ch]) > 0
}

// Reset drops every staged edit, for teardown.
func (p *Pending) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.self = make(map[property.ClientKey]property.Value)
	p.server = make(map[property.ServerKey]property.Value)
	p.channels = make(map[shared.ChannelID]map[property.ChannelKey]property.Value)
}

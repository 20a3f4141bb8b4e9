package subscribe

import (
	"sync"

	"github.com/accordvoice/accord/internal/shared"
)

// State of one channel's subscription on one connection.
type State uint8

const (
	Unsubscribed State = iota
	SubscribePending
	Subscribed
	UnsubscribePending
)

func (s State) String() string {
	switch s {
	case SubscribePending:
		return "subscribe_pending"
	case Subscribed:
		return "subscribed"
	case UnsubscribePending:
		return "unsubscribe_pending"
	}
	return "unsubscribed"
}

// Kind distinguishes subscribe batches from unsubscribe batches so each
// bulk operation can emit its own finished event.
type Kind uint8

const (
	KindSubscribe Kind = iota
	KindUnsubscribe
)

type batch struct {
	kind    Kind
	waiting map[shared.ChannelID]struct{}
}

// Set tracks the subscription state machine for every channel on one
// connection. The connection's current channel is pinned Subscribed as an
// overlay: it never appears in the explicit state map transitions and is
// exempt from unsubscribe-all.
type Set struct {
	mu      sync.Mutex
	states  map[shared.ChannelID]State
	current shared.ChannelID
	batches []*batch
}

func NewSet() *Set {
	return &Set{states: make(map[shared.ChannelID]State)}
}

// State returns the effective state: the current channel reads Subscribed
// regardless of its explicit state.
func (s *Set) State(ch shared.ChannelID) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(ch)
}

func (s *Set) stateLocked(ch shared.ChannelID) State {
	if ch != 0 && ch == s.current {
		return Subscribed
	}
	return s.states[ch]
}

// Visible reports whether live presence in ch is observable.
func (s *Set) Visible(ch shared.ChannelID) bool {
	return s.State(ch) == Subscribed
}

func (s *Set) Current() shared.ChannelID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetCurrent pins the connection's own channel. It returns the previous
// channel and whether that channel lost visibility (it was visible only
// through the implicit pin).
func (s *Set) SetCurrent(ch shared.ChannelID) (prev shared.ChannelID, prevLostVisibility bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev = s.current
	s.current = ch
	if prev != 0 && prev != ch {
		prevLostVisibility = s.states[prev] != Subscribed
	}
	return prev, prevLostVisibility
}

// Begin starts a (bulk) subscribe or unsubscribe. It returns the channels
// whose requests must actually be sent, plus finishedNow when nothing is
// left to wait for, in which case the finished event fires immediately and
// no batch is recorded. Channels already in the target state are skipped,
// which makes repeated subscribe-all idempotent while still producing one
// finished event per call.
func (s *Set) Begin(kind Kind, channels []shared.ChannelID) (send []shared.ChannelID, finishedNow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	waiting := make(map[shared.ChannelID]struct{})
	for _, ch := range channels {
		state := s.stateLocked(ch)
		switch kind {
		case KindSubscribe:
			switch state {
			case Unsubscribed, UnsubscribePending:
				s.states[ch] = SubscribePending
				send = append(send, ch)
				waiting[ch] = struct{}{}
			case SubscribePending:
				// An earlier batch already asked; wait on the same confirm.
				waiting[ch] = struct{}{}
			}
		case KindUnsubscribe:
			if ch != 0 && ch == s.current {
				continue
			}
			switch state {
			case Subscribed, SubscribePending:
				s.states[ch] = UnsubscribePending
				send = append(send, ch)
				waiting[ch] = struct{}{}
			case UnsubscribePending:
				waiting[ch] = struct{}{}
			}
		}
	}

	if len(waiting) == 0 {
		return nil, true
	}

	s.batches = append(s.batches, &batch{kind: kind, waiting: waiting})
	return send, false
}

// Confirm applies a per-channel confirmation from the server and returns
// one Kind entry per bulk operation that just saw its last confirmation.
func (s *Set) Confirm(kind Kind, ch shared.ChannelID) (finished []Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case KindSubscribe:
		s.states[ch] = Subscribed
	case KindUnsubscribe:
		delete(s.states, ch)
	}

	kept := s.batches[:0]
	for _, b := range s.batches {
		if b.kind == kind {
			delete(b.waiting, ch)
		}
		if len(b.waiting) == 0 {
			finished = append(finished, b.kind)
			continue
		}
		kept = append(kept, b)
	}
	s.batches = kept
	return finished
}

// Remove forgets a deleted channel entirely, resolving any batch that was
// still waiting on it.
func (s *Set) Remove(ch shared.ChannelID) (finished []Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, ch)
	if s.current == ch {
		s.current = 0
	}

	kept := s.batches[:0]
	for _, b := range s.batches {
		delete(b.waiting, ch)
		if len(b.waiting) == 0 {
			finished = append(finished, b.kind)
			continue
		}
		kept = append(kept, b)
	}
	s.batches = kept
	return finished
}

// Subscribed lists channels whose effective state is Subscribed.
func (s *Set) Subscribed() []shared.ChannelID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []shared.ChannelID
	seen := false
	for ch, st := range s.states {
		if st == Subscribed {
			out = append(out, ch)
			if ch == s.current {
				seen = true
			}
		}
	}
	if s.current != 0 && !seen {
		out = append(out, s.current)
	}
	return out
}

// Explicit lists channels with explicit Subscribed state, used by
// unsubscribe-all to pick its targets (the pinned current channel is
// handled by Begin).
func (s *Set) Explicit() []shared.ChannelID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []shared.ChannelID
	for ch, st := range s.states {
		if st == Subscribed || st == SubscribePending {
			out = append(out, ch)
		}
	}
	return out
}

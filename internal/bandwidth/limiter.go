package bandwidth

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

const (
	// Unlimited disables a scope's limit.
	Unlimited uint64 = 0

	// MinLimit is the floor for any bounded limit, in bytes per second.
	MinLimit uint64 = 5120
)

// Clamp normalizes a requested limit: the unlimited sentinel passes
// through, everything else is floored to MinLimit.
func Clamp(limit uint64) uint64 {
	if limit == Unlimited {
		return Unlimited
	}
	if limit < MinLimit {
		return MinLimit
	}
	return limit
}

// Limiter is one bandwidth scope (instance, virtual server, or transfer).
// Limit changes apply to waiters immediately, so in-flight transfers pick
// up new limits live.
type Limiter struct {
	mu    sync.Mutex
	limit uint64
	rl    *rate.Limiter
}

func NewLimiter(limit uint64) *Limiter {
	l := &Limiter{rl: rate.NewLimiter(rate.Inf, 0)}
	l.SetLimit(limit)
	return l
}

func (l *Limiter) SetLimit(limit uint64) {
	limit = Clamp(limit)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.limit = limit
	if limit == Unlimited {
		l.rl.SetLimit(rate.Inf)
		return
	}
	l.rl.SetLimit(rate.Limit(limit))
	l.rl.SetBurst(int(limit))
}

func (l *Limiter) Limit() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// WaitN blocks until n bytes may pass. Requests are split into MinLimit
// sized pieces so no piece can exceed the burst of any bounded limit,
// even when SetLimit lowers the scope mid-wait.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	for n > 0 {
		take := n
		if take > int(MinLimit) {
			take = int(MinLimit)
		}
		if err := l.rl.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

// Tiered chains the limiters that apply to one transfer. Each bounded
// scope enforces its own rate, so sustained throughput is the minimum of
// all applicable scopes at any instant.
type Tiered struct {
	scopes []*Limiter
}

func NewTiered(scopes ...*Limiter) *Tiered {
	t := &Tiered{}
	for _, s := range scopes {
		if s != nil {
			t.scopes = append(t.scopes, s)
		}
	}
	return t
}

func (t *Tiered) WaitN(ctx context.Context, n int) error {
	for _, s := range t.scopes {
		if err := s.WaitN(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// Effective returns the momentary effective limit: the minimum bounded
// scope, or Unlimited when every scope is unlimited.
func (t *Tiered) Effective() uint64 {
	eff := Unlimited
	for _, s := range t.scopes {
		limit := s.Limit()
		if limit == Unlimited {
			continue
		}
		if eff == Unlimited || limit < eff {
			eff = limit
		}
	}
	return eff
}

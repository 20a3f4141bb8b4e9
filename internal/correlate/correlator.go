package correlate

import (
	"log/slog"
	"sync"

	"github.com/accordvoice/accord/internal/shared"
)

// Outcome is the resolution of one outstanding request: the result code
// echoed by the remote peer plus its human-readable message.
type Outcome struct {
	Code    shared.Code
	Message string
	Extra   string
}

// Pending is the caller's handle on one outstanding request. It resolves
// exactly once.
type Pending struct {
	token string
	done  chan Outcome
}

func (p *Pending) Token() string {
	return p.token
}

// Done delivers the outcome when the matching reply arrives. In-flight
// requests always resolve; connection teardown fails them rather than
// letting them vanish.
func (p *Pending) Done() <-chan Outcome {
	return p.done
}

// Correlator matches asynchronous replies back to the request that carried
// the same token. Replies for distinct tokens resolve independently and in
// whatever order they arrive.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*Pending
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Correlator {
	return &Correlator{
		pending: make(map[string]*Pending),
		logger:  logger.With("component", "correlator"),
	}
}

// Issue registers a token before its request is sent. The empty token
// means fire-and-forget: Issue returns a nil handle and the eventual reply
// surfaces only as a generic server-error event.
//
// Reusing a token while a prior request with that token is still pending
// is rejected with CodeTokenInUse; nothing is sent in that case.
func (c *Correlator) Issue(token string) (*Pending, error) {
	if token == "" {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[token]; exists {
		return nil, shared.CodeTokenInUse
	}

	p := &Pending{token: token, done: make(chan Outcome, 1)}
	c.pending[token] = p
	return p, nil
}

// Resolve delivers a reply to the request that issued token. It reports
// whether a pending request was matched; unmatched replies (empty or
// unknown token) belong on the generic error event path.
func (c *Correlator) Resolve(token string, out Outcome) bool {
	if token == "" {
		return false
	}

	c.mu.Lock()
	p, ok := c.pending[token]
	if ok {
		delete(c.pending, token)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("reply without pending request", "token", token, "code", uint16(out.Code))
		return false
	}

	p.done <- out
	return true
}

// Abandon drops a pending token without resolving it. Used when sending
// the request failed after Issue.
func (c *Correlator) Abandon(token string) {
	if token == "" {
		return
	}
	c.mu.Lock()
	delete(c.pending, token)
	c.mu.Unlock()
}

// FailAll resolves every outstanding request with the given code. Called
// on connection loss and on handler teardown.
func (c *Correlator) FailAll(code shared.Code) {
	c.mu.Lock()
	drained := make([]*Pending, 0, len(c.pending))
	for token, p := range c.pending {
		drained = append(drained, p)
		delete(c.pending, token)
	}
	c.mu.Unlock()

	for _, p := range drained {
		p.done <- Outcome{Code: code, Message: code.Message()}
	}
}

func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

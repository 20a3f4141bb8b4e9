package permission

import (
	"log/slog"
	"time"

	"github.com/accordvoice/accord/internal/shared"
)

// Actor describes who is attempting the gated action.
type Actor struct {
	ID       shared.ClientID
	Channel  shared.ChannelID
	UID      string
	Nickname string
}

// Request describes one action presented to the gate. Fields beyond
// Action and Actor are populated per category; unused ones stay zero.
type Request struct {
	Server  shared.ServerID
	Action  Action
	Actor   Actor
	Targets []shared.ClientID
	Channel shared.ChannelID
	Path    string
	NewPath string
	Reason  string
	Text    string

	// Password carries the candidate for the password-check actions,
	// already transformed by the encrypt hook when one is installed.
	Password string
}

// Hook decides a single request. Returning nil allows the action; any
// error denies it, with the error's code surfaced to the requester. Hooks
// run synchronously on the processing path and must not block on I/O.
type Hook func(Request) error

// DefaultHookTimeout bounds how long the gate waits for a hook before
// treating it as failed.
const DefaultHookTimeout = 2 * time.Second

// Gate is the allow/deny checkpoint consulted before every mutating or
// disclosing action commits. A nil hook allows everything, for embedding
// without custom policy.
type Gate struct {
	hook    Hook
	timeout time.Duration
	logger  *slog.Logger
}

func NewGate(hook Hook, timeout time.Duration, logger *slog.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}
	return &Gate{
		hook:    hook,
		timeout: timeout,
		logger:  logger.With("component", "permission_gate"),
	}
}

// Check runs the hook for one request. A hook that exceeds the gate's
// bounded wait counts as a deny with CodeHookTimeout; the action must not
// commit on an undecided hook.
func (g *Gate) Check(req Request) error {
	if g.hook == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- g.hook(req)
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			g.logger.Debug("action denied",
				"action", req.Action.String(),
				"actor", uint16(req.Actor.ID),
				"code", uint16(shared.CodeOf(err)))
		}
		return err
	case <-timer.C:
		g.logger.Warn("permission hook exceeded bounded wait",
			"action", req.Action.String(),
			"timeout", g.timeout)
		return shared.CodeHookTimeout
	}
}

package transport

import (
	"context"

	"github.com/accordvoice/accord/internal/wire"
)

// Link carries decoded application messages between peers. The engine is
// agnostic to framing and encryption below this boundary.
type Link interface {
	Send(ctx context.Context, env *wire.Envelope) error
	Inbound() <-chan *wire.Envelope
	Close() error
}

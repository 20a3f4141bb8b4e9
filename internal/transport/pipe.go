package transport

import (
	"context"
	"sync"

	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/wire"
)

// Pipe is an in-memory link pair for embedding a server in the same
// process and for tests. Closing either end closes both; Inbound channels
// close once the pipe is down and drained.
type Pipe struct {
	out    chan *wire.Envelope
	recv   chan *wire.Envelope
	done   chan struct{}
	closed *sync.Once
}

// NewPipe returns two connected ends. Each end's Send feeds the other
// end's Inbound.
func NewPipe(buffer int) (*Pipe, *Pipe) {
	if buffer <= 0 {
		buffer = 128
	}
	ab := make(chan *wire.Envelope, buffer)
	ba := make(chan *wire.Envelope, buffer)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &Pipe{out: ab, recv: make(chan *wire.Envelope, buffer), done: done, closed: once}
	b := &Pipe{out: ba, recv: make(chan *wire.Envelope, buffer), done: done, closed: once}
	go a.pump(ba)
	go b.pump(ab)
	return a, b
}

func (p *Pipe) pump(from chan *wire.Envelope) {
	defer close(p.recv)
	for {
		select {
		case env := <-from:
			select {
			case p.recv <- env:
			case <-p.done:
				return
			}
		case <-p.done:
			// Flush whatever the peer managed to send before closing.
			for {
				select {
				case env := <-from:
					select {
					case p.recv <- env:
					default:
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (p *Pipe) Send(ctx context.Context, env *wire.Envelope) error {
	select {
	case <-p.done:
		return shared.CodeConnectionLost
	default:
	}

	select {
	case p.out <- env:
		return nil
	case <-p.done:
		return shared.CodeConnectionLost
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipe) Inbound() <-chan *wire.Envelope {
	return p.recv
}

func (p *Pipe) Close() error {
	p.closed.Do(func() {
		close(p.done)
	})
	return nil
}

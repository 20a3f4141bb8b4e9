package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// WSLink adapts a websocket connection into a Link. Outbound envelopes go
// through a bounded send queue and a write pump; a read pump feeds the
// inbound channel. The codec's packet hooks run just above the socket.
type WSLink struct {
	ws     *websocket.Conn
	codec  *wire.Codec
	logger *slog.Logger
	send   chan *wire.Envelope
	recv   chan *wire.Envelope
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

func NewWSLink(ws *websocket.Conn, codec *wire.Codec, logger *slog.Logger) *WSLink {
	if codec == nil {
		codec = wire.NewCodec(nil, nil)
	}
	l := &WSLink{
		ws:     ws,
		codec:  codec,
		logger: logger.With("component", "ws_link"),
		send:   make(chan *wire.Envelope, 256),
		recv:   make(chan *wire.Envelope, 256),
		done:   make(chan struct{}),
	}
	go l.readPump()
	go l.writePump()
	return l
}

func (l *WSLink) Send(ctx context.Context, env *wire.Envelope) error {
	select {
	case <-l.done:
		return shared.CodeConnectionLost
	default:
	}

	select {
	case l.send <- env:
		return nil
	case <-l.done:
		return shared.CodeConnectionLost
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *WSLink) Inbound() <-chan *wire.Envelope {
	return l.recv
}

func (l *WSLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	l.mu.Unlock()

	return l.ws.Close()
}

func (l *WSLink) readPump() {
	defer func() {
		l.Close()
		close(l.recv)
	}()

	l.ws.SetReadLimit(maxMessageSize)
	_ = l.ws.SetReadDeadline(time.Now().Add(pongWait))
	l.ws.SetPongHandler(func(string) error {
		_ = l.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := l.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.logger.Error("websocket read error", "error", err)
			}
			return
		}

		env, err := l.codec.Unmarshal(message)
		if err != nil {
			l.logger.Error("failed to decode message", "error", err)
			continue
		}

		select {
		case l.recv <- env:
		case <-l.done:
			return
		}
	}
}

func (l *WSLink) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.Close()
	}()

	for {
		select {
		case env := <-l.send:
			_ = l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := l.codec.Marshal(env)
			if err != nil {
				l.logger.Error("failed to encode message", "error", err)
				continue
			}
			if err := l.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				l.logger.Error("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-l.done:
			_ = l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = l.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Package dispatch routes decoded wire messages to typed handlers.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/omidkianifarkingkode/flowcast/protocol"
	"github.com/omidkianifarkingkode/flowcast/server/registry"
)

// Handler processes one message whose payload decoded to T.
type Handler[T any] func(ctx context.Context, conn *registry.Conn, header protocol.Header, payload *T) error

// HeaderHandler processes a header-only message. Returning true claims
// the message and stops the chain.
type HeaderHandler func(ctx context.Context, conn *registry.Conn, header protocol.Header) bool

type invoker func(ctx context.Context, conn *registry.Conn, msg *protocol.Message) error

// Mux maps wire message types to handlers. Configure before serving;
// registration is not synchronized with dispatch.
type Mux struct {
	handlers       map[uint16]invoker
	headerHandlers []HeaderHandler
	logger         zerolog.Logger
}

func NewMux(logger zerolog.Logger) *Mux {
	return &Mux{
		handlers: make(map[uint16]invoker),
		logger:   logger.With().Str("com", "dispatch").Logger(),
	}
}

// Register binds a typed handler to a wire message type. The payload
// type must match what the codec produces for that type.
func Register[T any](m *Mux, msgType uint16, fn Handler[T]) {
	if protocol.HeaderOnly(msgType) {
		panic(fmt.Sprintf("type 0x%04x is header-only, use HandleHeader", msgType))
	}
	if _, exists := m.handlers[msgType]; exists {
		panic(fmt.Sprintf("handler for type 0x%04x already registered", msgType))
	}
	m.handlers[msgType] = func(ctx context.Context, conn *registry.Conn, msg *protocol.Message) error {
		payload, ok := msg.Payload.(*T)
		if !ok {
			return fmt.Errorf("type 0x%04x decoded to %T, handler wants %T", msgType, msg.Payload, payload)
		}
		return fn(ctx, conn, msg.Header, payload)
	}
}

// HandleHeader appends a handler for header-only messages. Handlers run
// in registration order until one claims the message.
func (m *Mux) HandleHeader(fn HeaderHandler) {
	m.headerHandlers = append(m.headerHandlers, fn)
}

// Dispatch decodes a frame and routes it. Unknown message types are
// logged and dropped; malformed frames return the decode error so the
// transport can answer with an error notice.
func (m *Mux) Dispatch(ctx context.Context, conn *registry.Conn, frame []byte) error {
	msg, err := protocol.Decode(frame)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			m.logger.Debug().
				Str("player_id", conn.PlayerID).
				Uint16("type", msg.Header.Type).
				Msg("unknown message type dropped")
			return nil
		}
		return fmt.Errorf("decode frame: %w", err)
	}

	if protocol.HeaderOnly(msg.Header.Type) {
		for _, fn := range m.headerHandlers {
			if fn(ctx, conn, msg.Header) {
				return nil
			}
		}
		m.logger.Debug().
			Str("player_id", conn.PlayerID).
			Uint16("type", msg.Header.Type).
			Msg("unclaimed header-only message dropped")
		return nil
	}

	fn, ok := m.handlers[msg.Header.Type]
	if !ok {
		m.logger.Debug().
			Str("player_id", conn.PlayerID).
			Uint16("type", msg.Header.Type).
			Msg("no handler registered, message dropped")
		return nil
	}
	return fn(ctx, conn, msg)
}

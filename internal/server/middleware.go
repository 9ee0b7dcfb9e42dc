package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agmm7834/MyNetBoot-v2/internal/protocol"
)

// HandlerFunc handles one inbound envelope. A returned error ends the
// connection's receive loop.
type HandlerFunc func(ctx context.Context, c *Conn, env *protocol.Envelope) error

// MiddlewareFunc wraps a HandlerFunc.
type MiddlewareFunc func(next HandlerFunc) HandlerFunc

func chain(h HandlerFunc, mws []MiddlewareFunc) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// LoggingMiddleware logs every dispatched message at debug level.
func LoggingMiddleware() MiddlewareFunc {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, c *Conn, env *protocol.Envelope) error {
			log.Debug().
				Str("conn_id", c.ID()).
				Stringer("kind", env.Kind).
				Int("payload_bytes", len(env.Payload)).
				Msg("Received message")

			return next(ctx, c, env)
		}
	}
}

// RecoveryMiddleware turns a handler panic into an error reply and ends the
// connection.
func RecoveryMiddleware() MiddlewareFunc {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, c *Conn, env *protocol.Envelope) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("conn_id", c.ID()).
						Stringer("kind", env.Kind).
						Msg("Recovered from panic in handler")
					_ = c.Send(protocol.MustEnvelope(protocol.KindError, protocol.Text{Value: "Internal server error"}))
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(ctx, c, env)
		}
	}
}

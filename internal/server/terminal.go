package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/agmm7834/MyNetBoot-v2/internal/config"
	"github.com/agmm7834/MyNetBoot-v2/internal/model"
	"github.com/agmm7834/MyNetBoot-v2/internal/protocol"
	"github.com/agmm7834/MyNetBoot-v2/internal/registry"
)

// TerminalHandler receives the terminal messages the listener does not
// answer itself, plus membership events.
type TerminalHandler interface {
	HandleTerminal(ctx context.Context, c *Conn, env *protocol.Envelope) error
	// TerminalConnected runs after the terminal was registered and acknowledged.
	TerminalConnected(ctx context.Context, terminalID string)
	// TerminalDisconnected runs after the terminal was deregistered and
	// before its socket is closed.
	TerminalDisconnected(ctx context.Context, terminalID string)
}

// TerminalServer accepts terminal connections.
type TerminalServer struct {
	cfg      config.ServerConfig
	registry *registry.Registry
	handler  TerminalHandler
	dispatch HandlerFunc
	slots    *semaphore.Weighted
	lis      *listener
	now      func() time.Time
}

// NewTerminalServer creates a TerminalServer. Middlewares wrap every
// dispatched message in the given order.
func NewTerminalServer(cfg config.ServerConfig, reg *registry.Registry, h TerminalHandler, mws ...MiddlewareFunc) *TerminalServer {
	return &TerminalServer{
		cfg:      cfg,
		registry: reg,
		handler:  h,
		dispatch: chain(h.HandleTerminal, mws),
		slots:    semaphore.NewWeighted(int64(cfg.MaxTerminals)),
		lis:      newListener("terminal", cfg.TerminalAddr),
		now:      time.Now,
	}
}

// Listen binds the terminal port.
func (s *TerminalServer) Listen() error {
	return s.lis.listen()
}

// Addr returns the bound address.
func (s *TerminalServer) Addr() net.Addr {
	return s.lis.address()
}

// Serve accepts terminals until ctx is done.
func (s *TerminalServer) Serve(ctx context.Context) error {
	return s.lis.serve(ctx, s.handle)
}

func (s *TerminalServer) handle(ctx context.Context, nc net.Conn) {
	c := NewConn(nc, s.cfg.WriteTimeout, s.cfg.RateLimit, s.cfg.RateBurst)
	s.lis.track(ctx, c)
	defer s.lis.untrack(c)
	defer c.Close()

	if !s.slots.TryAcquire(1) {
		log.Warn().Str("remote_addr", c.RemoteAddr()).Msg("Terminal capacity reached, rejecting connection")
		return
	}
	defer s.slots.Release(1)

	t, ok := s.handshake(c)
	if !ok {
		return
	}

	log.Info().
		Str("terminal_id", t.ID).
		Str("name", t.Name).
		Str("remote_addr", t.Address).
		Msg("Terminal connected")

	s.handler.TerminalConnected(ctx, t.ID)

	err := s.receiveLoop(ctx, c)

	s.registry.Remove(t.ID)
	s.handler.TerminalDisconnected(ctx, t.ID)

	ev := log.Info()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Str("terminal_id", t.ID).Msg("Terminal disconnected")
}

// handshake reads the connect message, registers the terminal and sends the
// acknowledgement. Rejections close the socket without a reply.
func (s *TerminalServer) handshake(c *Conn) (model.Terminal, bool) {
	env, err := c.Receive(s.cfg.HandshakeTimeout)
	if err != nil {
		log.Debug().Err(err).Str("remote_addr", c.RemoteAddr()).Msg("Handshake read failed")
		return model.Terminal{}, false
	}
	if env.Kind != protocol.KindConnect {
		log.Warn().Stringer("kind", env.Kind).Str("remote_addr", c.RemoteAddr()).Msg("Expected connect message")
		return model.Terminal{}, false
	}
	req, err := protocol.DecodeAs[*protocol.ConnectRequest](env)
	if err != nil {
		log.Warn().Err(err).Str("remote_addr", c.RemoteAddr()).Msg("Invalid connect message")
		return model.Terminal{}, false
	}
	if s.registry.IsBlocked(req.HardwareID) {
		log.Warn().Str("hardware_id", req.HardwareID).Msg("Blocked terminal rejected")
		return model.Terminal{}, false
	}

	now := s.now()
	t := model.Terminal{
		ID:          uuid.NewString(),
		Name:        req.Name,
		HardwareID:  req.HardwareID,
		Version:     req.Version,
		Address:     c.RemoteAddr(),
		Status:      model.StatusOnline,
		ConnectedAt: now,
		LastSeen:    now,
	}
	c.id = t.ID
	if err := s.registry.Add(t, c); err != nil {
		log.Error().Err(err).Str("terminal_id", t.ID).Msg("Failed to register terminal")
		return model.Terminal{}, false
	}

	ack := protocol.MustEnvelope(protocol.KindConnectAck, &protocol.ConnectAck{TerminalID: t.ID, ServerTimeMs: now.UnixMilli()})
	if err := c.Send(ack); err != nil {
		s.registry.Remove(t.ID)
		log.Debug().Err(err).Str("terminal_id", t.ID).Msg("Failed to acknowledge handshake")
		return model.Terminal{}, false
	}
	return t, true
}

// receiveLoop returns nil on a clean disconnect or shutdown.
func (s *TerminalServer) receiveLoop(ctx context.Context, c *Conn) error {
	for {
		env, err := c.Receive(s.cfg.IdleTimeout)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}

		s.registry.Touch(c.ID(), s.now())

		switch env.Kind {
		case protocol.KindHeartbeat:
			if err := c.Send(protocol.MustEnvelope(protocol.KindHeartbeatAck, nil)); err != nil {
				return err
			}
		case protocol.KindDisconnect:
			return nil
		default:
			if err := s.dispatch(ctx, c, env); err != nil {
				return err
			}
		}
	}
}

package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/agmm7834/MyNetBoot-v2/internal/config"
	"github.com/agmm7834/MyNetBoot-v2/internal/protocol"
)

// Admin channel errors.
var (
	ErrAdminBusy         = errors.New("admin channel already in use")
	ErrAdminNotConnected = errors.New("admin channel not connected")
)

// AdminID is the connection id of the admin channel.
const AdminID = "admin"

// AdminHandler receives admin commands.
type AdminHandler interface {
	HandleAdmin(ctx context.Context, c *Conn, env *protocol.Envelope) error
	// AdminConnected runs once the admin has authenticated.
	AdminConnected(ctx context.Context)
}

type adminSession struct {
	conn   *Conn
	authed atomic.Bool
}

// AdminServer accepts at most one admin connection at a time. The slot is
// claimed with a compare-and-swap before anything is read from the socket.
type AdminServer struct {
	cfg      config.ServerConfig
	admin    config.AdminConfig
	handler  AdminHandler
	dispatch HandlerFunc
	slot     atomic.Pointer[adminSession]
	lis      *listener
}

// NewAdminServer creates an AdminServer.
func NewAdminServer(cfg config.ServerConfig, admin config.AdminConfig, h AdminHandler, mws ...MiddlewareFunc) *AdminServer {
	return &AdminServer{
		cfg:      cfg,
		admin:    admin,
		handler:  h,
		dispatch: chain(h.HandleAdmin, mws),
		lis:      newListener("admin", cfg.AdminAddr),
	}
}

// Listen binds the admin port.
func (s *AdminServer) Listen() error {
	return s.lis.listen()
}

// Addr returns the bound address.
func (s *AdminServer) Addr() net.Addr {
	return s.lis.address()
}

// Serve accepts admin connections until ctx is done.
func (s *AdminServer) Serve(ctx context.Context) error {
	return s.lis.serve(ctx, s.handle)
}

// Connected reports whether an authenticated admin is attached.
func (s *AdminServer) Connected() bool {
	sess := s.slot.Load()
	return sess != nil && sess.authed.Load()
}

// Push sends an unsolicited message to the authenticated admin.
func (s *AdminServer) Push(env *protocol.Envelope) error {
	sess := s.slot.Load()
	if sess == nil || !sess.authed.Load() {
		return ErrAdminNotConnected
	}
	return sess.conn.Send(env)
}

func (s *AdminServer) acquire(c *Conn) (*adminSession, error) {
	sess := &adminSession{conn: c}
	if !s.slot.CompareAndSwap(nil, sess) {
		return nil, ErrAdminBusy
	}
	return sess, nil
}

func (s *AdminServer) handle(ctx context.Context, nc net.Conn) {
	c := NewConn(nc, s.cfg.WriteTimeout, s.cfg.RateLimit, s.cfg.RateBurst)
	c.id = AdminID
	defer c.Close()

	sess, err := s.acquire(c)
	if err != nil {
		log.Warn().Err(err).Str("remote_addr", c.RemoteAddr()).Msg("Rejected admin connection")
		return
	}
	defer s.slot.CompareAndSwap(sess, nil)

	s.lis.track(ctx, c)
	defer s.lis.untrack(c)

	if !s.authenticate(c) {
		return
	}
	sess.authed.Store(true)

	log.Info().Str("remote_addr", c.RemoteAddr()).Msg("Admin connected")
	s.handler.AdminConnected(ctx)

	err = s.receiveLoop(ctx, c)

	ev := log.Info()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("Admin disconnected")
}

func (s *AdminServer) authenticate(c *Conn) bool {
	env, err := c.Receive(s.cfg.HandshakeTimeout)
	if err != nil {
		log.Debug().Err(err).Msg("Admin auth read failed")
		return false
	}
	if env.Kind != protocol.KindAdminAuth {
		log.Warn().Stringer("kind", env.Kind).Msg("Expected admin auth message")
		return false
	}
	auth, err := protocol.DecodeAs[*protocol.AdminAuth](env)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid admin auth message")
		return false
	}

	if s.admin.Secret != "" && subtle.ConstantTimeCompare([]byte(auth.Secret), []byte(s.admin.Secret)) != 1 {
		log.Warn().Str("remote_addr", c.RemoteAddr()).Msg("Admin authentication failed")
		_ = c.Send(protocol.MustEnvelope(protocol.KindAdminAuthResp, &protocol.Result{Message: "Authentication failed"}))
		return false
	}

	resp := protocol.MustEnvelope(protocol.KindAdminAuthResp, &protocol.Result{Success: true, Message: "Authenticated"})
	return c.Send(resp) == nil
}

func (s *AdminServer) receiveLoop(ctx context.Context, c *Conn) error {
	for {
		env, err := c.Receive(0)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}

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

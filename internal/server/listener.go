package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/agmm7834/MyNetBoot-v2/internal/pkg/safemap"
)

// listener owns a TCP socket and every connection accepted from it.
type listener struct {
	name  string
	addr  string
	ln    net.Listener
	conns *safemap.SafeMap[*Conn, struct{}]
	wg    sync.WaitGroup
}

func newListener(name, addr string) *listener {
	return &listener{
		name:  name,
		addr:  addr,
		conns: safemap.New[*Conn, struct{}](),
	}
}

func (l *listener) listen() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.addr, err)
	}
	l.ln = ln
	log.Info().Str("listener", l.name).Str("addr", ln.Addr().String()).Msg("Listening")
	return nil
}

// serve accepts until ctx is done, running handle in its own goroutine per
// connection. On return every connection is closed and its handler has exited.
func (l *listener) serve(ctx context.Context, handle func(ctx context.Context, nc net.Conn)) error {
	if l.ln == nil {
		return errors.New("listener not started")
	}

	stop := context.AfterFunc(ctx, func() { l.ln.Close() })
	defer stop()

	for {
		nc, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			log.Error().Err(err).Str("listener", l.name).Msg("Accept failed")
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			handle(ctx, nc)
		}()
	}

	l.conns.Range(func(c *Conn, _ struct{}) bool {
		c.Close()
		return true
	})
	l.wg.Wait()

	log.Info().Str("listener", l.name).Msg("Listener stopped")
	return nil
}

// track registers c for closing on shutdown. A connection tracked after
// shutdown began is closed at once, since the final sweep may have missed it.
func (l *listener) track(ctx context.Context, c *Conn) {
	l.conns.Store(c, struct{}{})
	if ctx.Err() != nil {
		c.Close()
	}
}

func (l *listener) untrack(c *Conn) { l.conns.Delete(c) }

func (l *listener) address() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

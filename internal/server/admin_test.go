package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agmm7834/MyNetBoot-v2/internal/config"
	"github.com/agmm7834/MyNetBoot-v2/internal/protocol"
)

type fakeAdminHandler struct {
	connected atomic.Int32
	received  chan *protocol.Envelope
}

func newFakeAdminHandler() *fakeAdminHandler {
	return &fakeAdminHandler{received: make(chan *protocol.Envelope, 16)}
}

func (h *fakeAdminHandler) HandleAdmin(_ context.Context, c *Conn, env *protocol.Envelope) error {
	h.received <- env
	return c.Send(protocol.MustEnvelope(protocol.KindTerminalsResp, &protocol.TerminalList{}))
}

func (h *fakeAdminHandler) AdminConnected(context.Context) { h.connected.Add(1) }

func startAdminServer(t *testing.T, admin config.AdminConfig, h AdminHandler) *AdminServer {
	t.Helper()
	s := NewAdminServer(testServerConfig(), admin, h)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("admin server did not stop")
		}
	})
	return s
}

func authAdmin(t *testing.T, s *AdminServer, secret string) (*protocol.Result, net.Conn) {
	t.Helper()
	c := dial(t, s.Addr())
	send(t, c, protocol.KindAdminAuth, &protocol.AdminAuth{Secret: secret})
	env := recv(t, c)
	require.Equal(t, protocol.KindAdminAuthResp, env.Kind)
	res, err := protocol.DecodeAs[*protocol.Result](env)
	require.NoError(t, err)
	return res, c
}

func TestAdminServer_AuthAndCommand(t *testing.T) {
	h := newFakeAdminHandler()
	s := startAdminServer(t, config.AdminConfig{}, h)

	res, c := authAdmin(t, s, "anything")
	assert.True(t, res.Success)
	assert.Eventually(t, func() bool { return h.connected.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, s.Connected())

	send(t, c, protocol.KindGetTerminals, nil)
	assert.Equal(t, protocol.KindTerminalsResp, recv(t, c).Kind)
	assert.Equal(t, protocol.KindGetTerminals, (<-h.received).Kind)
}

func TestAdminServer_SecondConnectionRejected(t *testing.T) {
	h := newFakeAdminHandler()
	s := startAdminServer(t, config.AdminConfig{}, h)

	res, first := authAdmin(t, s, "")
	require.True(t, res.Success)

	second := dial(t, s.Addr())
	assertClosed(t, second)

	send(t, first, protocol.KindHeartbeat, nil)
	assert.Equal(t, protocol.KindHeartbeatAck, recv(t, first).Kind)
	assert.True(t, s.Connected())
}

func TestAdminServer_SlotReleasedOnDisconnect(t *testing.T) {
	s := startAdminServer(t, config.AdminConfig{}, newFakeAdminHandler())

	_, first := authAdmin(t, s, "")
	send(t, first, protocol.KindDisconnect, nil)
	assertClosed(t, first)
	assert.Eventually(t, func() bool { return !s.Connected() }, time.Second, 10*time.Millisecond)

	res, _ := authAdmin(t, s, "")
	assert.True(t, res.Success)
}

func TestAdminServer_SecretMismatch(t *testing.T) {
	h := newFakeAdminHandler()
	s := startAdminServer(t, config.AdminConfig{Secret: "s3cret"}, h)

	res, c := authAdmin(t, s, "wrong")
	assert.False(t, res.Success)
	assertClosed(t, c)
	assert.Zero(t, h.connected.Load())

	res, _ = authAdmin(t, s, "s3cret")
	assert.True(t, res.Success)
}

func TestAdminServer_FirstMessageMustBeAuth(t *testing.T) {
	s := startAdminServer(t, config.AdminConfig{}, newFakeAdminHandler())

	c := dial(t, s.Addr())
	send(t, c, protocol.KindGetStats, nil)
	assertClosed(t, c)
	assert.False(t, s.Connected())
}

func TestAdminServer_Push(t *testing.T) {
	s := startAdminServer(t, config.AdminConfig{}, newFakeAdminHandler())
	assert.ErrorIs(t, s.Push(protocol.MustEnvelope(protocol.KindTerminalsResp, &protocol.TerminalList{})), ErrAdminNotConnected)

	_, c := authAdmin(t, s, "")
	require.Eventually(t, s.Connected, time.Second, 10*time.Millisecond)
	require.NoError(t, s.Push(protocol.MustEnvelope(protocol.KindTerminalsResp, &protocol.TerminalList{})))
	assert.Equal(t, protocol.KindTerminalsResp, recv(t, c).Kind)
}

// However many clients race for the admin port, exactly one is admitted.
func TestAdminServer_ConcurrentAttempts(t *testing.T) {
	s := startAdminServer(t, config.AdminConfig{}, newFakeAdminHandler())

	const clients = 8
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
			if err != nil {
				return
			}
			t.Cleanup(func() { c.Close() })
			env, err := protocol.NewEnvelope(protocol.KindAdminAuth, &protocol.AdminAuth{})
			if err != nil {
				return
			}
			if protocol.WriteEnvelope(c, env) != nil {
				return
			}
			_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
			resp, err := protocol.ReadEnvelope(c)
			if err == nil && resp.Kind == protocol.KindAdminAuthResp {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, admitted.Load())
}

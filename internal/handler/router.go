// Package handler routes terminal and admin messages to the services.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agmm7834/MyNetBoot-v2/internal/billing"
	"github.com/agmm7834/MyNetBoot-v2/internal/filetransfer"
	"github.com/agmm7834/MyNetBoot-v2/internal/model"
	"github.com/agmm7834/MyNetBoot-v2/internal/protocol"
	"github.com/agmm7834/MyNetBoot-v2/internal/registry"
	"github.com/agmm7834/MyNetBoot-v2/internal/server"
	"github.com/agmm7834/MyNetBoot-v2/internal/service"
)

// AccountLister lists every account for the admin snapshot.
type AccountLister interface {
	List(ctx context.Context) ([]*model.Account, error)
}

// AdminPusher delivers unsolicited snapshots to the admin channel.
type AdminPusher interface {
	Push(env *protocol.Envelope) error
	Connected() bool
}

type noopPusher struct{}

func (noopPusher) Push(*protocol.Envelope) error { return nil }
func (noopPusher) Connected() bool               { return false }

// Dependencies holds everything the router dispatches to.
type Dependencies struct {
	Registry  *registry.Registry
	Catalog   *service.CatalogService
	Files     *filetransfer.Service
	Billing   *billing.Manager
	Stats     *service.StatsService
	Accounts  AccountLister
	KickGrace time.Duration
	OpTimeout time.Duration
}

// Router dispatches inbound messages inline on the receiving connection's
// goroutine. Every state change pushes a fresh snapshot to the admin.
type Router struct {
	registry  *registry.Registry
	catalog   *service.CatalogService
	files     *filetransfer.Service
	billing   *billing.Manager
	stats     *service.StatsService
	accounts  AccountLister
	admin     AdminPusher
	kickGrace time.Duration
	opTimeout time.Duration
}

// NewRouter creates a Router and installs it as the billing notifier.
func NewRouter(deps *Dependencies) *Router {
	opTimeout := deps.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	r := &Router{
		registry:  deps.Registry,
		catalog:   deps.Catalog,
		files:     deps.Files,
		billing:   deps.Billing,
		stats:     deps.Stats,
		accounts:  deps.Accounts,
		admin:     noopPusher{},
		kickGrace: deps.KickGrace,
		opTimeout: opTimeout,
	}
	deps.Billing.SetNotifier(r)
	return r
}

// SetAdmin installs the admin channel. It must be called before serving.
func (r *Router) SetAdmin(p AdminPusher) {
	if p == nil {
		p = noopPusher{}
	}
	r.admin = p
}

// Notify sends env to a connected terminal.
func (r *Router) Notify(terminalID string, env *protocol.Envelope) error {
	conn, ok := r.registry.Conn(terminalID)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrTerminalNotFound, terminalID)
	}
	return conn.Send(env)
}

// Disconnect closes a terminal after the grace period, giving an already
// queued forced-disconnect message a chance to arrive.
func (r *Router) Disconnect(terminalID string) {
	conn, ok := r.registry.Conn(terminalID)
	if !ok {
		return
	}
	time.Sleep(r.kickGrace)

	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Str("terminal_id", terminalID).Msg("Close after forced disconnect failed")
	}
	if r.registry.Remove(terminalID) {
		r.pushTerminals()
	}
}

// AccountsChanged pushes the account snapshot.
func (r *Router) AccountsChanged() {
	r.pushAccounts(context.Background())
}

// forceDisconnect implements admin block and kick. The session is closed
// before the socket so no charge can land on a terminal that is gone.
func (r *Router) forceDisconnect(ctx context.Context, terminalID, reason string, block bool) error {
	t, ok := r.registry.Get(terminalID)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrTerminalNotFound, terminalID)
	}
	conn, ok := r.registry.Conn(terminalID)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrTerminalNotFound, terminalID)
	}

	if block {
		r.registry.Update(terminalID, func(t *model.Terminal) { t.Blocked = true })
		r.registry.Block(t.HardwareID)
	}

	if err := conn.Send(protocol.MustEnvelope(protocol.KindForceDisconnect, protocol.Text{Value: reason})); err != nil {
		log.Debug().Err(err).Str("terminal_id", terminalID).Msg("Failed to send forced disconnect")
	}

	timer := time.NewTimer(r.kickGrace)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	if _, err := r.billing.Logout(context.WithoutCancel(ctx), terminalID); err != nil && !errors.Is(err, billing.ErrNoSession) {
		log.Error().Err(err).Str("terminal_id", terminalID).Msg("Failed to close session")
	}
	_ = conn.Close()
	r.registry.Remove(terminalID)

	log.Info().
		Str("terminal_id", terminalID).
		Str("hardware_id", t.HardwareID).
		Bool("blocked", block).
		Msg("Terminal force-disconnected")

	r.pushTerminals()
	return nil
}

// setStatus updates a terminal's status and pushes only on change.
func (r *Router) setStatus(terminalID string, status model.TerminalStatus, game string) {
	prev, ok := r.registry.Get(terminalID)
	if !ok || (prev.Status == status && prev.CurrentGame == game) {
		return
	}
	r.registry.SetStatus(terminalID, status, game)
	r.pushTerminals()
}

func (r *Router) push(kind protocol.Kind, p protocol.Payload) {
	if !r.admin.Connected() {
		return
	}
	if err := r.admin.Push(protocol.MustEnvelope(kind, p)); err != nil {
		log.Debug().Err(err).Stringer("kind", kind).Msg("Failed to push snapshot to admin")
	}
}

func (r *Router) pushTerminals() {
	r.push(protocol.KindTerminalsResp, r.terminalList())
}

func (r *Router) pushCatalog() {
	r.push(protocol.KindCatalogResp, &protocol.CatalogList{Entries: r.catalog.List()})
}

func (r *Router) pushAccounts(ctx context.Context) {
	if !r.admin.Connected() {
		return
	}
	list, err := r.accountList(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list accounts")
		return
	}
	r.push(protocol.KindAccountsResp, list)
}

func (r *Router) terminalList() *protocol.TerminalList {
	return &protocol.TerminalList{Terminals: r.registry.Snapshot()}
}

func (r *Router) accountList(ctx context.Context) (*protocol.AccountList, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	accounts, err := r.accounts.List(ctx)
	if err != nil {
		return nil, err
	}
	list := &protocol.AccountList{Accounts: make([]model.Account, 0, len(accounts))}
	for _, a := range accounts {
		list.Accounts = append(list.Accounts, *a)
	}
	return list, nil
}

func reply(c *server.Conn, kind protocol.Kind, p protocol.Payload) error {
	return c.Send(protocol.MustEnvelope(kind, p))
}

func replyError(c *server.Conn, format string, args ...any) error {
	return reply(c, protocol.KindError, protocol.Text{Value: fmt.Sprintf(format, args...)})
}

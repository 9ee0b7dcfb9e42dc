package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agmm7834/MyNetBoot-v2/internal/billing"
	"github.com/agmm7834/MyNetBoot-v2/internal/model"
	"github.com/agmm7834/MyNetBoot-v2/internal/protocol"
	"github.com/agmm7834/MyNetBoot-v2/internal/server"
)

// HandleTerminal dispatches one terminal message. Payloads that do not match
// their kind end the connection.
func (r *Router) HandleTerminal(ctx context.Context, c *server.Conn, env *protocol.Envelope) error {
	if !env.Kind.Known() {
		return fmt.Errorf("%w: %s", protocol.ErrUnknownKind, env.Kind)
	}

	switch env.Kind {
	case protocol.KindGetCatalog:
		return reply(c, protocol.KindCatalogResp, &protocol.CatalogList{Entries: r.catalog.Enabled()})
	case protocol.KindGetEntry:
		return r.handleGetEntry(ctx, c, env)
	case protocol.KindFileRequest:
		return r.handleFileRequest(c, env)
	case protocol.KindFileComplete:
		return r.handleFileComplete(c, env)
	case protocol.KindLaunch, protocol.KindLaunched:
		return r.handleLaunch(c, env)
	case protocol.KindClosed:
		if _, err := protocol.DecodeAs[*protocol.EntryRef](env); err != nil {
			return err
		}
		r.setStatus(c.ID(), model.StatusOnline, "")
		return nil
	case protocol.KindLogin:
		return r.handleLogin(ctx, c, env)
	case protocol.KindLogout:
		return r.handleLogout(ctx, c)
	case protocol.KindBalanceUpdate:
		// Balances are charged server-side; terminal reports are informational.
		log.Debug().Str("terminal_id", c.ID()).Msg("Ignoring terminal balance update")
		return nil
	default:
		return replyError(c, "Unsupported message: %s", env.Kind)
	}
}

// TerminalConnected pushes the new membership to the admin.
func (r *Router) TerminalConnected(_ context.Context, _ string) {
	r.pushTerminals()
}

// TerminalDisconnected collapses the terminal's session, if any, and pushes
// the new membership.
func (r *Router) TerminalDisconnected(ctx context.Context, terminalID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opTimeout)
	defer cancel()

	if _, err := r.billing.Logout(ctx, terminalID); err != nil && !errors.Is(err, billing.ErrNoSession) {
		log.Error().Err(err).Str("terminal_id", terminalID).Msg("Failed to close session on disconnect")
	}
	r.pushTerminals()
}

func (r *Router) handleGetEntry(ctx context.Context, c *server.Conn, env *protocol.Envelope) error {
	ref, err := protocol.DecodeAs[*protocol.EntryRef](env)
	if err != nil {
		return err
	}

	entry, ok := r.catalog.Get(ref.ID)
	if !ok || !entry.Enabled {
		return reply(c, protocol.KindEntryResp, &protocol.EntryDetail{})
	}

	files, err := r.files.Manifest(ctx, entry.ID)
	if err != nil {
		log.Warn().Err(err).Str("entry_id", entry.ID).Msg("Failed to list entry files")
	}
	return reply(c, protocol.KindEntryResp, &protocol.EntryDetail{Entry: &entry, Files: files})
}

func (r *Router) handleFileRequest(c *server.Conn, env *protocol.Envelope) error {
	req, err := protocol.DecodeAs[*protocol.FileRequest](env)
	if err != nil {
		return err
	}

	chunk, err := r.files.ReadChunk(req)
	if err != nil {
		log.Warn().
			Err(err).
			Str("terminal_id", c.ID()).
			Str("entry_id", req.EntryID).
			Str("path", req.Path).
			Msg("File request failed")

		r.setStatus(c.ID(), model.StatusOnline, "")
		return reply(c, protocol.KindFileError, &protocol.FileError{
			EntryID: req.EntryID,
			Path:    req.Path,
			Reason:  err.Error(),
		})
	}

	entry, _ := r.catalog.Get(req.EntryID)
	r.setStatus(c.ID(), model.StatusDownloading, entry.Name)
	return reply(c, protocol.KindFileChunk, chunk)
}

func (r *Router) handleFileComplete(c *server.Conn, env *protocol.Envelope) error {
	done, err := protocol.DecodeAs[*protocol.FileComplete](env)
	if err != nil {
		return err
	}
	log.Info().
		Str("terminal_id", c.ID()).
		Str("entry_id", done.EntryID).
		Str("path", done.Path).
		Msg("Download complete")

	r.setStatus(c.ID(), model.StatusOnline, "")
	return nil
}

func (r *Router) handleLaunch(c *server.Conn, env *protocol.Envelope) error {
	ref, err := protocol.DecodeAs[*protocol.EntryRef](env)
	if err != nil {
		return err
	}

	name := ref.ID
	if entry, ok := r.catalog.Get(ref.ID); ok {
		name = entry.Name
	}
	r.setStatus(c.ID(), model.StatusPlaying, name)
	return nil
}

func (r *Router) handleLogin(ctx context.Context, c *server.Conn, env *protocol.Envelope) error {
	req, err := protocol.DecodeAs[*protocol.LoginRequest](env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	account, err := r.billing.Login(ctx, c.ID(), req.Phone, req.Password)
	if err != nil {
		log.Info().Err(err).Str("terminal_id", c.ID()).Msg("Login rejected")
		return reply(c, protocol.KindLoginResp, &protocol.LoginResponse{Message: loginMessage(err)})
	}

	r.registry.Update(c.ID(), func(t *model.Terminal) {
		t.AccountID = account.ID
		t.AccountName = account.FullName()
	})
	r.pushTerminals()

	return reply(c, protocol.KindLoginResp, &protocol.LoginResponse{
		Success: true,
		Message: "Welcome, " + account.FullName(),
		Account: account,
	})
}

func (r *Router) handleLogout(ctx context.Context, c *server.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	rec, err := r.billing.Logout(ctx, c.ID())
	if errors.Is(err, billing.ErrNoSession) {
		return replyError(c, "No active session")
	}
	if err != nil {
		log.Error().Err(err).Str("terminal_id", c.ID()).Msg("Failed to record session")
	}

	r.registry.Update(c.ID(), func(t *model.Terminal) {
		t.AccountID = 0
		t.AccountName = ""
	})
	r.pushTerminals()

	return reply(c, protocol.KindSessionEnd, &protocol.SessionEnd{Record: rec})
}

func loginMessage(err error) string {
	switch {
	case errors.Is(err, billing.ErrInvalidCredentials):
		return "Invalid phone number or password"
	case errors.Is(err, billing.ErrAccountBlocked):
		return "Account is blocked, contact administrator"
	case errors.Is(err, billing.ErrInsufficientBalance):
		return "Insufficient balance. Top up your account."
	default:
		return "Login is temporarily unavailable"
	}
}

package handler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agmm7834/MyNetBoot-v2/internal/billing"
	"github.com/agmm7834/MyNetBoot-v2/internal/protocol"
	"github.com/agmm7834/MyNetBoot-v2/internal/server"
)

// HandleAdmin dispatches one admin command. Failed commands are answered
// with an error message and leave the connection open.
func (r *Router) HandleAdmin(ctx context.Context, c *server.Conn, env *protocol.Envelope) error {
	if !env.Kind.Known() {
		return fmt.Errorf("%w: %s", protocol.ErrUnknownKind, env.Kind)
	}

	switch env.Kind {
	case protocol.KindGetTerminals:
		return reply(c, protocol.KindTerminalsResp, r.terminalList())
	case protocol.KindGetStats:
		return reply(c, protocol.KindStatsResp, &protocol.StatsReport{ServerStats: r.stats.Snapshot()})
	case protocol.KindGetCatalog:
		return reply(c, protocol.KindCatalogResp, &protocol.CatalogList{Entries: r.catalog.List()})
	case protocol.KindGetAccounts:
		list, err := r.accountList(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list accounts")
			return replyError(c, "Failed to list accounts")
		}
		return reply(c, protocol.KindAccountsResp, list)
	case protocol.KindAddEntry, protocol.KindUpdateEntry:
		return r.handleSaveEntry(c, env)
	case protocol.KindRemoveEntry:
		return r.handleRemoveEntry(c, env)
	case protocol.KindBlock, protocol.KindKick:
		return r.handleDisconnect(ctx, c, env)
	case protocol.KindUnblock:
		return r.handleUnblock(c, env)
	case protocol.KindSendMessage, protocol.KindForceClose:
		return r.handleRelay(c, env)
	default:
		return replyError(c, "Unsupported command: %s", env.Kind)
	}
}

// AdminConnected sends the full state to a newly authenticated admin.
func (r *Router) AdminConnected(ctx context.Context) {
	r.pushTerminals()
	r.pushCatalog()
	r.pushAccounts(ctx)
}

func (r *Router) handleSaveEntry(c *server.Conn, env *protocol.Envelope) error {
	data, err := protocol.DecodeAs[*protocol.EntryData](env)
	if err != nil {
		return err
	}

	if env.Kind == protocol.KindAddEntry {
		_, err = r.catalog.Add(data.CatalogEntry)
	} else {
		_, err = r.catalog.Update(data.CatalogEntry)
		r.files.Invalidate(data.ID)
	}
	if err != nil {
		log.Warn().Err(err).Stringer("kind", env.Kind).Msg("Catalog change rejected")
		return replyError(c, "Catalog change failed: %v", err)
	}

	r.pushCatalog()
	return nil
}

func (r *Router) handleRemoveEntry(c *server.Conn, env *protocol.Envelope) error {
	ref, err := protocol.DecodeAs[*protocol.EntryRef](env)
	if err != nil {
		return err
	}
	if err := r.catalog.Remove(ref.ID); err != nil {
		return replyError(c, "Catalog change failed: %v", err)
	}
	r.files.Invalidate(ref.ID)

	r.pushCatalog()
	return nil
}

func (r *Router) handleDisconnect(ctx context.Context, c *server.Conn, env *protocol.Envelope) error {
	ref, err := protocol.DecodeAs[*protocol.TerminalRef](env)
	if err != nil {
		return err
	}

	block := env.Kind == protocol.KindBlock
	reason := billing.ReasonKicked
	if block {
		reason = billing.ReasonBlocked
	}
	if err := r.forceDisconnect(ctx, ref.ID, reason, block); err != nil {
		return replyError(c, "%v", err)
	}
	return nil
}

func (r *Router) handleUnblock(c *server.Conn, env *protocol.Envelope) error {
	ref, err := protocol.DecodeAs[*protocol.HardwareRef](env)
	if err != nil {
		return err
	}

	if !r.registry.Unblock(ref.ID) {
		return replyError(c, "Hardware id is not blocked: %s", ref.ID)
	}
	log.Info().Str("hardware_id", ref.ID).Msg("Hardware unblocked")

	r.pushTerminals()
	return nil
}

// handleRelay forwards a text to env.TargetID. A message without a target
// goes to every terminal.
func (r *Router) handleRelay(c *server.Conn, env *protocol.Envelope) error {
	text, err := protocol.DecodeAs[*protocol.Text](env)
	if err != nil {
		return err
	}
	out := protocol.MustEnvelope(env.Kind, text)

	if env.TargetID == "" {
		if env.Kind == protocol.KindForceClose {
			return replyError(c, "force-close requires a target terminal")
		}
		for _, t := range r.registry.Snapshot() {
			if err := r.Notify(t.ID, out); err != nil {
				log.Debug().Err(err).Str("terminal_id", t.ID).Msg("Broadcast delivery failed")
			}
		}
		return nil
	}

	out.TargetID = env.TargetID
	if err := r.Notify(env.TargetID, out); err != nil {
		return replyError(c, "%v", err)
	}
	return nil
}

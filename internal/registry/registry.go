// Package registry tracks the connected terminals: their live connection and
// mutable state. It never closes connections itself.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/agmm7834/MyNetBoot-v2/internal/model"
	"github.com/agmm7834/MyNetBoot-v2/internal/protocol"
)

// Registry errors.
var (
	ErrDuplicateTerminal = errors.New("terminal id already registered")
	ErrTerminalNotFound  = errors.New("terminal not found")
)

// Conn is the send side of a terminal connection.
type Conn interface {
	Send(env *protocol.Envelope) error
	Close() error
}

type entry struct {
	conn     Conn
	terminal model.Terminal
}

// Registry maps terminal ids to their connection and state. Every operation
// holds the lock only for the map access itself, never across I/O.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	blocked map[string]struct{} // hardware ids
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		blocked: make(map[string]struct{}),
	}
}

// Add registers a fully built terminal. The id must not be in use.
func (r *Registry) Add(t model.Terminal, conn Conn) error {
	if t.ID == "" {
		return errors.New("terminal id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[t.ID]; exists {
		return ErrDuplicateTerminal
	}
	r.entries[t.ID] = &entry{conn: conn, terminal: t}
	return nil
}

// Remove deregisters a terminal and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Get returns a copy of the terminal's state.
func (r *Registry) Get(id string) (model.Terminal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return model.Terminal{}, false
	}
	return e.terminal, true
}

// Conn returns the terminal's connection.
func (r *Registry) Conn(id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Update applies fn to the terminal's state atomically. It returns false if
// the terminal is not registered. fn must not block.
func (r *Registry) Update(id string, fn func(t *model.Terminal)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	fn(&e.terminal)
	return true
}

// Touch records inbound activity.
func (r *Registry) Touch(id string, at time.Time) {
	r.Update(id, func(t *model.Terminal) { t.LastSeen = at })
}

// SetStatus sets the terminal's status and current game.
func (r *Registry) SetStatus(id string, status model.TerminalStatus, currentGame string) bool {
	return r.Update(id, func(t *model.Terminal) {
		t.Status = status
		t.CurrentGame = currentGame
	})
}

// Snapshot returns a point-in-time copy of every terminal, ordered by
// connection time then id.
func (r *Registry) Snapshot() []model.Terminal {
	r.mu.RLock()
	terminals := make([]model.Terminal, 0, len(r.entries))
	for _, e := range r.entries {
		terminals = append(terminals, e.terminal)
	}
	r.mu.RUnlock()

	sort.Slice(terminals, func(i, j int) bool {
		if !terminals[i].ConnectedAt.Equal(terminals[j].ConnectedAt) {
			return terminals[i].ConnectedAt.Before(terminals[j].ConnectedAt)
		}
		return terminals[i].ID < terminals[j].ID
	})
	return terminals
}

// CountByStatus returns how many terminals are in each status.
func (r *Registry) CountByStatus() map[model.TerminalStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[model.TerminalStatus]int)
	for _, e := range r.entries {
		counts[e.terminal.Status]++
	}
	return counts
}

// Len returns the number of registered terminals.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Block adds a hardware id to the blocklist.
func (r *Registry) Block(hardwareID string) {
	if hardwareID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked[hardwareID] = struct{}{}
}

// Unblock removes a hardware id from the blocklist and reports whether it was there.
func (r *Registry) Unblock(hardwareID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.blocked[hardwareID]; !ok {
		return false
	}
	delete(r.blocked, hardwareID)
	return true
}

// IsBlocked reports whether a hardware id is on the blocklist.
func (r *Registry) IsBlocked(hardwareID string) bool {
	if hardwareID == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blocked[hardwareID]
	return ok
}

// BlockedHardware returns the blocklist in sorted order.
func (r *Registry) BlockedHardware() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.blocked))
	for id := range r.blocked {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

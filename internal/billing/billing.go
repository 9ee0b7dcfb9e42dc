// Package billing runs the per-terminal login sessions and the per-minute
// balance decrement.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agmm7834/MyNetBoot-v2/internal/model"
	"github.com/agmm7834/MyNetBoot-v2/internal/pkg/lock"
	"github.com/agmm7834/MyNetBoot-v2/internal/pkg/safemap"
	"github.com/agmm7834/MyNetBoot-v2/internal/protocol"
	"github.com/agmm7834/MyNetBoot-v2/internal/repository"
)

// Login and session errors.
var (
	ErrInvalidCredentials  = errors.New("invalid phone number or password")
	ErrAccountBlocked      = errors.New("account is blocked")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoSession           = errors.New("no active session")
)

// Reasons shown to the user on a forced disconnect.
const (
	ReasonExhausted = "Balance exhausted. Top up your account."
	ReasonBlocked   = "You are blocked, contact administrator"
	ReasonKicked    = "Disconnected by administrator"
)

// phoneDigits is the required length of a normalized phone number.
const phoneDigits = 9

// AccountStore is the durable account and session history store.
type AccountStore interface {
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	GetByCredentials(ctx context.Context, phone, password string) (*model.Account, error)
	UpdateBalance(ctx context.Context, id int64, balance int64) (*model.Account, error)
	UpdateStatus(ctx context.Context, id int64, status model.AccountStatus) error
	AppendSessionRecord(ctx context.Context, rec *model.SessionRecord) error
}

// Notifier delivers billing events to terminals and the admin channel.
type Notifier interface {
	Notify(terminalID string, env *protocol.Envelope) error
	// Disconnect closes the terminal's connection after the reason was sent.
	Disconnect(terminalID string)
	AccountsChanged()
}

type noopNotifier struct{}

func (noopNotifier) Notify(string, *protocol.Envelope) error { return nil }
func (noopNotifier) Disconnect(string)                       {}
func (noopNotifier) AccountsChanged()                        {}

// Options configures a Manager.
type Options struct {
	TickInterval time.Duration
	UnitPrice    int64
	OpTimeout    time.Duration
}

// Session is a snapshot of a terminal's binding to an account.
type Session struct {
	TerminalID     string
	AccountID      int64
	Surname        string
	GivenName      string
	Phone          string
	StartTime      time.Time
	InitialBalance int64
}

type session struct {
	Session
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns every open session. Each session has its own ticker goroutine;
// balance and status writes are serialized per account id.
type Manager struct {
	store    AccountStore
	locks    *lock.AccountLock
	sessions *safemap.SafeMap[string, *session]
	notifier Notifier
	opts     Options
	now      func() time.Time
}

// NewManager creates a Manager.
func NewManager(store AccountStore, locks *lock.AccountLock, opts Options) *Manager {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}
	return &Manager{
		store:    store,
		locks:    locks,
		sessions: safemap.New[string, *session](),
		notifier: noopNotifier{},
		opts:     opts,
		now:      time.Now,
	}
}

// SetNotifier installs the event sink. It must be called before the first Login.
func (m *Manager) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	m.notifier = n
}

// NormalizePhone strips everything but digits and requires exactly nine of them.
func NormalizePhone(phone string) (string, bool) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	return digits, len(digits) == phoneDigits
}

// Login opens a billing session for the terminal. A session the terminal
// already holds is closed only once the new account has been accepted, so a
// rejected login leaves it running.
func (m *Manager) Login(ctx context.Context, terminalID, phone, password string) (*model.Account, error) {
	phone, ok := NormalizePhone(phone)
	password = strings.TrimSpace(password)
	if !ok || password == "" {
		return nil, ErrInvalidCredentials
	}

	found, err := m.store.GetByCredentials(ctx, phone, password)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	var account *model.Account
	err = m.locks.WithLockContext(ctx, found.ID, func() error {
		account, err = m.store.GetByID(ctx, found.ID)
		if err != nil {
			return fmt.Errorf("failed to load account: %w", err)
		}
		if account.Status == model.AccountBlocked {
			return ErrAccountBlocked
		}
		if account.Balance <= 0 {
			return ErrInsufficientBalance
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := m.Logout(ctx, terminalID); err != nil && !errors.Is(err, ErrNoSession) {
		log.Warn().Err(err).Str("terminal_id", terminalID).Msg("Failed to close previous session")
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		Session: Session{
			TerminalID:     terminalID,
			AccountID:      account.ID,
			Surname:        account.Surname,
			GivenName:      account.GivenName,
			Phone:          account.Phone,
			StartTime:      m.now(),
			InitialBalance: account.Balance,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.sessions.Store(terminalID, s)
	go m.run(sessCtx, s)

	log.Info().
		Str("terminal_id", terminalID).
		Int64("account_id", account.ID).
		Int64("balance", account.Balance).
		Msg("Session opened")

	m.notifier.AccountsChanged()
	return account, nil
}

// Logout closes the terminal's session. The ticker is stopped before the
// record is written. The returned record is nil when nothing was appended.
func (m *Manager) Logout(ctx context.Context, terminalID string) (*model.SessionRecord, error) {
	s, ok := m.sessions.LoadAndDelete(terminalID)
	if !ok {
		return nil, ErrNoSession
	}

	s.cancel()
	<-s.done

	return m.finish(ctx, s)
}

// Session returns the terminal's open session.
func (m *Manager) Session(terminalID string) (Session, bool) {
	s, ok := m.sessions.Load(terminalID)
	if !ok {
		return Session{}, false
	}
	return s.Session, true
}

// ActiveSessions returns the number of open sessions.
func (m *Manager) ActiveSessions() int {
	return m.sessions.Len()
}

// Close ends every open session.
func (m *Manager) Close(ctx context.Context) {
	var ids []string
	m.sessions.Range(func(id string, _ *session) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		if _, err := m.Logout(ctx, id); err != nil && !errors.Is(err, ErrNoSession) {
			log.Error().Err(err).Str("terminal_id", id).Msg("Failed to close session on shutdown")
		}
	}
}

func (m *Manager) run(ctx context.Context, s *session) {
	defer close(s.done)

	ticker := time.NewTicker(m.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.tick(ctx, s) {
				return
			}
		}
	}
}

// tick charges one unit and reports whether the session ended because the
// balance ran out.
func (m *Manager) tick(ctx context.Context, s *session) bool {
	account, err := m.charge(ctx, s)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Int64("account_id", s.AccountID).Msg("Failed to charge session")
		}
		return false
	}

	elapsed := int(m.now().Sub(s.StartTime) / time.Minute)
	m.notify(s.TerminalID, protocol.KindBalanceUpdate, &protocol.BalanceUpdate{
		AccountID:      account.ID,
		Balance:        account.Balance,
		ElapsedMinutes: elapsed,
	})
	m.notifier.AccountsChanged()

	if account.Balance > 0 {
		return false
	}
	m.exhaust(s)
	return true
}

// charge decrements the balance by one unit, clamped at zero, and blocks the
// account when nothing is left.
func (m *Manager) charge(ctx context.Context, s *session) (*model.Account, error) {
	opCtx, cancel := context.WithTimeout(ctx, m.opts.OpTimeout)
	defer cancel()

	var account *model.Account
	err := m.locks.WithLockContext(opCtx, s.AccountID, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		current, err := m.store.GetByID(opCtx, s.AccountID)
		if err != nil {
			return err
		}

		balance := max(current.Balance-m.opts.UnitPrice, 0)
		account, err = m.store.UpdateBalance(opCtx, s.AccountID, balance)
		if err != nil {
			return err
		}
		if balance == 0 && account.Status != model.AccountBlocked {
			if err := m.store.UpdateStatus(opCtx, s.AccountID, model.AccountBlocked); err != nil {
				return err
			}
			account.Status = model.AccountBlocked
		}
		return nil
	})
	return account, err
}

// exhaust ends a session whose balance ran out. It is a no-op if a logout
// already claimed the session.
func (m *Manager) exhaust(s *session) {
	if !m.sessions.CompareAndDelete(s.TerminalID, s) {
		return
	}
	s.cancel()

	log.Info().
		Str("terminal_id", s.TerminalID).
		Int64("account_id", s.AccountID).
		Msg("Balance exhausted, ending session")

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.OpTimeout)
	defer cancel()

	rec, err := m.finish(ctx, s)
	if err != nil {
		log.Error().Err(err).Str("terminal_id", s.TerminalID).Msg("Failed to record exhausted session")
	}
	m.notify(s.TerminalID, protocol.KindSessionEnd, &protocol.SessionEnd{Record: rec, Reason: ReasonExhausted})
	m.notify(s.TerminalID, protocol.KindForceDisconnect, protocol.Text{Value: ReasonExhausted})
	m.notifier.Disconnect(s.TerminalID)
}

// finish appends the session record and restores the account status.
func (m *Manager) finish(ctx context.Context, s *session) (*model.SessionRecord, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.OpTimeout)
	defer cancel()

	var rec *model.SessionRecord
	err := m.locks.WithLockContext(ctx, s.AccountID, func() error {
		account, err := m.store.GetByID(ctx, s.AccountID)
		if err != nil {
			return fmt.Errorf("failed to load account: %w", err)
		}

		end := m.now()
		elapsed := int(end.Sub(s.StartTime) / time.Minute)
		consumed := max(s.InitialBalance-account.Balance, 0)

		if elapsed > 0 || consumed > 0 {
			rec = &model.SessionRecord{
				AccountID:       s.AccountID,
				Surname:         s.Surname,
				GivenName:       s.GivenName,
				Phone:           s.Phone,
				BalanceConsumed: consumed,
				StartTime:       s.StartTime,
				EndTime:         end,
				ElapsedMinutes:  elapsed,
			}
			if err := m.store.AppendSessionRecord(ctx, rec); err != nil {
				return fmt.Errorf("failed to append session record: %w", err)
			}
		}

		if account.Balance > 0 && account.Status != model.AccountActive {
			if err := m.store.UpdateStatus(ctx, s.AccountID, model.AccountActive); err != nil {
				return fmt.Errorf("failed to restore account status: %w", err)
			}
		}
		return nil
	})

	log.Info().
		Str("terminal_id", s.TerminalID).
		Int64("account_id", s.AccountID).
		Bool("recorded", rec != nil).
		Msg("Session closed")

	m.notifier.AccountsChanged()
	return rec, err
}

func (m *Manager) notify(terminalID string, kind protocol.Kind, p protocol.Payload) {
	if err := m.notifier.Notify(terminalID, protocol.MustEnvelope(kind, p)); err != nil {
		log.Debug().Err(err).Str("terminal_id", terminalID).Stringer("kind", kind).Msg("Failed to notify terminal")
	}
}

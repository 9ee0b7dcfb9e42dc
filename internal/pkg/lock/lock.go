// Package lock provides account-level locking for balance and status updates.
package lock

import (
	"context"
	"sync"
)

// accountMutex is a mutex shared by every holder and waiter of one account id.
type accountMutex struct {
	mu   sync.Mutex
	refs int  // holders plus waiters, guarded by AccountLock.mu
	held bool // guarded by AccountLock.mu
}

// AccountLock serializes operations per account id. Operations on different
// accounts never block each other. Entries are dropped once nobody holds or
// waits for them, so the map stays proportional to the accounts in use.
type AccountLock struct {
	mu    sync.Mutex
	locks map[int64]*accountMutex
}

// NewAccountLock creates a new AccountLock instance.
func NewAccountLock() *AccountLock {
	return &AccountLock{locks: make(map[int64]*accountMutex)}
}

// acquire returns the mutex for id and registers the caller as a user of it.
func (l *AccountLock) acquire(accountID int64) *accountMutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[accountID]
	if !ok {
		m = &accountMutex{}
		l.locks[accountID] = m
	}
	m.refs++
	return m
}

// release drops the caller's reference and forgets the mutex when unused.
func (l *AccountLock) release(accountID int64, m *accountMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(l.locks, accountID)
	}
}

// markHeld records that the caller now owns m.
func (l *AccountLock) markHeld(m *accountMutex) {
	l.mu.Lock()
	m.held = true
	l.mu.Unlock()
}

// Lock acquires the lock for an account.
func (l *AccountLock) Lock(accountID int64) {
	m := l.acquire(accountID)
	m.mu.Lock()
	l.markHeld(m)
}

// Unlock releases the lock for an account. Unlocking an account that has no
// holder is a no-op, even while others wait for it.
func (l *AccountLock) Unlock(accountID int64) {
	l.mu.Lock()
	m, ok := l.locks[accountID]
	if !ok || !m.held {
		l.mu.Unlock()
		return
	}
	m.held = false
	l.mu.Unlock()

	m.mu.Unlock()
	l.release(accountID, m)
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false otherwise.
func (l *AccountLock) TryLock(accountID int64) bool {
	m := l.acquire(accountID)
	if m.mu.TryLock() {
		l.markHeld(m)
		return true
	}
	l.release(accountID, m)
	return false
}

// LockContext acquires the lock or gives up when ctx is done.
func (l *AccountLock) LockContext(ctx context.Context, accountID int64) error {
	m := l.acquire(accountID)
	if m.mu.TryLock() {
		l.markHeld(m)
		return nil
	}

	acquired := make(chan struct{})
	go func() {
		m.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		l.markHeld(m)
		return nil
	case <-ctx.Done():
		// The waiter still owns a reference; hand the lock straight back once it lands.
		go func() {
			<-acquired
			m.mu.Unlock()
			l.release(accountID, m)
		}()
		if ctx.Err() == context.DeadlineExceeded {
			return ErrLockTimeout
		}
		return ctx.Err()
	}
}

// WithLock executes fn while holding the account's lock.
func (l *AccountLock) WithLock(accountID int64, fn func() error) error {
	l.Lock(accountID)
	defer l.Unlock(accountID)
	return fn()
}

// WithLockContext executes fn while holding the account's lock, giving up
// if ctx is done before the lock is acquired.
func (l *AccountLock) WithLockContext(ctx context.Context, accountID int64, fn func() error) error {
	if err := l.LockContext(ctx, accountID); err != nil {
		return err
	}
	defer l.Unlock(accountID)
	return fn()
}

// IsLocked reports whether an account's lock is currently held.
// Note: This is a point-in-time check and may change immediately after.
func (l *AccountLock) IsLocked(accountID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[accountID]
	return ok && m.held
}

// Len returns the number of accounts with a holder or waiter.
func (l *AccountLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

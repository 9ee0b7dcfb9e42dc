// Property-based tests for per-account serialization.
package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// *For any* set of concurrent charges on one account, the final balance equals
// the sequential result and never drops below zero when every charge clamps.
func TestConcurrentChargesClampProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initialBalance := rapid.Int64Range(0, 5000).Draw(t, "initialBalance")
		numOps := rapid.IntRange(2, 30).Draw(t, "numOps")
		unit := rapid.Int64Range(1, 500).Draw(t, "unit")
		accountID := rapid.Int64Range(1, 1000000).Draw(t, "accountID")

		l := NewAccountLock()
		balance := initialBalance
		var negative atomic.Bool

		var wg sync.WaitGroup
		wg.Add(numOps)
		for i := 0; i < numOps; i++ {
			go func() {
				defer wg.Done()
				_ = l.WithLock(accountID, func() error {
					next := balance - unit
					if next < 0 {
						next = 0
					}
					balance = next
					if balance < 0 {
						negative.Store(true)
					}
					return nil
				})
			}()
		}
		wg.Wait()

		expected := initialBalance - int64(numOps)*unit
		if expected < 0 {
			expected = 0
		}
		if balance != expected {
			t.Fatalf("balance mismatch: expected %d, got %d", expected, balance)
		}
		if negative.Load() {
			t.Fatal("balance went negative")
		}
	})
}

// Locks for different accounts are independent.
func TestIndependentAccountsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numAccounts := rapid.IntRange(2, 10).Draw(t, "numAccounts")
		opsPerAccount := rapid.IntRange(5, 20).Draw(t, "opsPerAccount")

		l := NewAccountLock()
		balances := make([]int64, numAccounts+1)

		var wg sync.WaitGroup
		wg.Add(numAccounts * opsPerAccount)
		for id := 1; id <= numAccounts; id++ {
			for j := 0; j < opsPerAccount; j++ {
				go func(accountID int64) {
					defer wg.Done()
					l.Lock(accountID)
					defer l.Unlock(accountID)
					balances[accountID] += 10
				}(int64(id))
			}
		}
		wg.Wait()

		for id := 1; id <= numAccounts; id++ {
			if balances[id] != int64(opsPerAccount)*10 {
				t.Fatalf("account %d: expected %d, got %d", id, opsPerAccount*10, balances[id])
			}
		}
	})
}

// After any number of lock cycles the table is empty again.
func TestLockTableDrainsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOfN(rapid.Int64Range(1, 20), 1, 50).Draw(t, "ids")

		l := NewAccountLock()
		var wg sync.WaitGroup
		wg.Add(len(ids))
		for _, id := range ids {
			go func(accountID int64) {
				defer wg.Done()
				if l.TryLock(accountID) {
					l.Unlock(accountID)
					return
				}
				l.Lock(accountID)
				l.Unlock(accountID)
			}(id)
		}
		wg.Wait()

		if n := l.Len(); n != 0 {
			t.Fatalf("expected empty lock table, got %d entries", n)
		}
	})
}

func TestTryLock(t *testing.T) {
	l := NewAccountLock()

	require.True(t, l.TryLock(1))
	assert.True(t, l.IsLocked(1))
	assert.False(t, l.TryLock(1))
	assert.True(t, l.TryLock(2), "other accounts are not blocked")

	l.Unlock(1)
	l.Unlock(2)
	assert.False(t, l.IsLocked(1))
	assert.Zero(t, l.Len())
}

func TestUnlockWithoutLockIsNoop(t *testing.T) {
	l := NewAccountLock()
	l.Unlock(42)
	assert.Zero(t, l.Len())
}

func TestLockContext_Timeout(t *testing.T) {
	l := NewAccountLock()
	l.Lock(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.WithLockContext(ctx, 1, func() error {
		t.Fatal("fn must not run without the lock")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockTimeout)

	l.Unlock(1)
	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestLockContext_Acquires(t *testing.T) {
	l := NewAccountLock()
	l.Lock(1)

	done := make(chan error, 1)
	go func() {
		done <- l.WithLockContext(context.Background(), 1, func() error { return nil })
	}()

	time.Sleep(10 * time.Millisecond)
	l.Unlock(1)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

// A second Unlock while a waiter has not yet taken over must not release a
// mutex nobody holds.
func TestUnlockTwiceWithWaiter(t *testing.T) {
	l := NewAccountLock()
	l.Lock(1)

	acquired := make(chan struct{})
	go func() {
		l.Lock(1)
		close(acquired)
	}()
	assert.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.locks[1].refs == 2
	}, time.Second, time.Millisecond)

	l.Unlock(1)
	l.Unlock(1)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	l.Unlock(1)
	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, l.IsLocked(1))
}

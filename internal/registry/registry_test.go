package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/agmm7834/MyNetBoot-v2/internal/model"
	"github.com/agmm7834/MyNetBoot-v2/internal/protocol"
)

type nopConn struct{}

func (nopConn) Send(*protocol.Envelope) error { return nil }
func (nopConn) Close() error                  { return nil }

func terminal(id string, connectedAt time.Time) model.Terminal {
	return model.Terminal{ID: id, Name: "PC-" + id, HardwareID: "hw-" + id, Status: model.StatusOnline, ConnectedAt: connectedAt}
}

func TestRegistry_AddGetRemove(t *testing.T) {
	r := New()
	now := time.Now()

	require.NoError(t, r.Add(terminal("a", now), nopConn{}))
	assert.ErrorIs(t, r.Add(terminal("a", now), nopConn{}), ErrDuplicateTerminal)
	assert.Error(t, r.Add(model.Terminal{}, nopConn{}))

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "PC-a", got.Name)

	conn, ok := r.Conn("a")
	require.True(t, ok)
	assert.NotNil(t, conn)

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	_, ok = r.Get("a")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRegistry_UpdateIsVisibleAndCopiesAreIsolated(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(terminal("a", time.Now()), nopConn{}))

	assert.True(t, r.SetStatus("a", model.StatusPlaying, "Dota 2"))
	assert.False(t, r.SetStatus("missing", model.StatusPlaying, ""))

	got, _ := r.Get("a")
	assert.Equal(t, model.StatusPlaying, got.Status)
	assert.Equal(t, "Dota 2", got.CurrentGame)

	got.CurrentGame = "mutated"
	again, _ := r.Get("a")
	assert.Equal(t, "Dota 2", again.CurrentGame)

	seen := time.Now().Add(time.Minute)
	r.Touch("a", seen)
	again, _ = r.Get("a")
	assert.True(t, again.LastSeen.Equal(seen))
}

func TestRegistry_SnapshotOrder(t *testing.T) {
	r := New()
	base := time.Now()
	require.NoError(t, r.Add(terminal("c", base.Add(2*time.Second)), nopConn{}))
	require.NoError(t, r.Add(terminal("b", base), nopConn{}))
	require.NoError(t, r.Add(terminal("a", base), nopConn{}))

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})

	counts := r.CountByStatus()
	assert.Equal(t, 3, counts[model.StatusOnline])
}

func TestRegistry_Blocklist(t *testing.T) {
	r := New()

	assert.False(t, r.IsBlocked("hw-1"))
	r.Block("hw-1")
	r.Block("")
	assert.True(t, r.IsBlocked("hw-1"))
	assert.False(t, r.IsBlocked(""))
	assert.Equal(t, []string{"hw-1"}, r.BlockedHardware())

	assert.True(t, r.Unblock("hw-1"))
	assert.False(t, r.Unblock("hw-1"))
	assert.False(t, r.IsBlocked("hw-1"))
}

// Concurrent inserts, removals and snapshots never expose a partial entry and
// leave exactly the surviving ids registered.
func TestRegistry_ConcurrentMembershipProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(t, "terminals")
		removeMask := rapid.SliceOfN(rapid.Bool(), n, n).Draw(t, "remove")

		r := New()
		var wg sync.WaitGroup
		stop := make(chan struct{})

		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, term := range r.Snapshot() {
					if term.ID == "" || term.Name == "" || term.HardwareID == "" {
						panic("observed half-built terminal")
					}
				}
			}
		}()

		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("t%d", i)
				if err := r.Add(terminal(id, time.Now()), nopConn{}); err != nil {
					panic(err)
				}
				if removeMask[i] {
					r.Remove(id)
				}
			}(i)
		}
		wg.Wait()
		close(stop)
		<-readerDone

		want := 0
		for i := 0; i < n; i++ {
			_, ok := r.Get(fmt.Sprintf("t%d", i))
			if ok == removeMask[i] {
				t.Fatalf("terminal t%d presence mismatch", i)
			}
			if !removeMask[i] {
				want++
			}
		}
		if r.Len() != want {
			t.Fatalf("expected %d terminals, got %d", want, r.Len())
		}
	})
}

package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agmm7834/MyNetBoot-v2/internal/model"
)

type fakeTerminals map[model.TerminalStatus]int

func (f fakeTerminals) CountByStatus() map[model.TerminalStatus]int { return f }

func (f fakeTerminals) Len() int {
	n := 0
	for _, c := range f {
		n += c
	}
	return n
}

type fakeCounters struct {
	bytes    int64
	sessions int
}

func (f fakeCounters) BytesTransferred() int64 { return f.bytes }
func (f fakeCounters) ActiveSessions() int     { return f.sessions }

func TestStats_Snapshot(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	_, err := catalog.Add(model.CatalogEntry{Name: "Doom"})
	require.NoError(t, err)

	counters := fakeCounters{bytes: 4096, sessions: 2}
	terminals := fakeTerminals{model.StatusOnline: 3, model.StatusPlaying: 2, model.StatusDownloading: 1}
	stats := NewStatsService(terminals, catalog, counters, counters)
	stats.now = func() time.Time { return stats.startedAt.Add(90 * time.Second) }

	s := stats.Snapshot()
	assert.Equal(t, 6, s.TotalTerminals)
	assert.Equal(t, 3, s.OnlineTerminals)
	assert.Equal(t, 2, s.PlayingTerminals)
	assert.Equal(t, 1, s.DownloadingTerminals)
	assert.Equal(t, 2, s.ActiveSessions)
	assert.Equal(t, 1, s.TotalGames)
	assert.Equal(t, int64(4096), s.TotalBytesTransferred)
	assert.Equal(t, int64(90), s.UptimeSeconds)
	assert.GreaterOrEqual(t, s.CPUPercent, 0.0)
}

package service

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/agmm7834/MyNetBoot-v2/internal/model"
)

// TerminalCounter reports connected terminals by status.
type TerminalCounter interface {
	CountByStatus() map[model.TerminalStatus]int
	Len() int
}

// TransferCounter reports bytes served to terminals.
type TransferCounter interface {
	BytesTransferred() int64
}

// SessionCounter reports running billing sessions.
type SessionCounter interface {
	ActiveSessions() int
}

// StatsService assembles ServerStats from the live components.
type StatsService struct {
	terminals TerminalCounter
	catalog   *CatalogService
	transfers TransferCounter
	sessions  SessionCounter
	startedAt time.Time
	proc      *process.Process
	now       func() time.Time
}

// NewStatsService creates a StatsService. Process metrics are omitted when
// the current process cannot be inspected.
func NewStatsService(terminals TerminalCounter, catalog *CatalogService, transfers TransferCounter, sessions SessionCounter) *StatsService {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn().Err(err).Msg("Process metrics unavailable")
		proc = nil
	}
	return &StatsService{
		terminals: terminals,
		catalog:   catalog,
		transfers: transfers,
		sessions:  sessions,
		startedAt: time.Now(),
		proc:      proc,
		now:       time.Now,
	}
}

// Snapshot returns the current statistics.
func (s *StatsService) Snapshot() model.ServerStats {
	counts := s.terminals.CountByStatus()
	stats := model.ServerStats{
		TotalTerminals:        s.terminals.Len(),
		OnlineTerminals:       counts[model.StatusOnline],
		PlayingTerminals:      counts[model.StatusPlaying],
		DownloadingTerminals:  counts[model.StatusDownloading],
		ActiveSessions:        s.sessions.ActiveSessions(),
		TotalGames:            s.catalog.Count(),
		TotalBytesTransferred: s.transfers.BytesTransferred(),
		UptimeSeconds:         int64(s.now().Sub(s.startedAt) / time.Second),
	}

	if s.proc != nil {
		if cpu, err := s.proc.CPUPercent(); err == nil {
			stats.CPUPercent = cpu
		}
		if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
			stats.MemoryBytes = mem.RSS
		}
	}
	return stats
}

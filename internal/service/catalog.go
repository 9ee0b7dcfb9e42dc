// Package service provides the catalog and statistics services.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agmm7834/MyNetBoot-v2/internal/model"
)

// Common errors for catalog operations.
var (
	ErrEntryNotFound = errors.New("catalog entry not found")
	ErrInvalidEntry  = errors.New("invalid catalog entry")
)

const (
	catalogFile = "catalog.json"
	configDir   = "config"
	gamesDir    = "games"
)

// CatalogService keeps the game catalog in memory and persists it as JSON
// under <data>/config/catalog.json. Each entry's files live in <data>/games/<id>.
type CatalogService struct {
	mu      sync.RWMutex
	dataDir string
	entries []model.CatalogEntry
	now     func() time.Time
}

// NewCatalogService creates a CatalogService rooted at dataDir. Call Load
// before use.
func NewCatalogService(dataDir string) *CatalogService {
	return &CatalogService{
		dataDir: dataDir,
		now:     time.Now,
	}
}

func (s *CatalogService) catalogPath() string {
	return filepath.Join(s.dataDir, configDir, catalogFile)
}

func (s *CatalogService) entryDir(id string) string {
	return filepath.Join(s.dataDir, gamesDir, id)
}

// Load creates the data directories and reads the persisted catalog, if any.
func (s *CatalogService) Load() error {
	for _, dir := range []string{filepath.Join(s.dataDir, configDir), filepath.Join(s.dataDir, gamesDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	data, err := os.ReadFile(s.catalogPath())
	if errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("path", s.catalogPath()).Msg("No catalog file, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}

	var entries []model.CatalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse catalog: %w", err)
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	log.Info().Int("entries", len(entries)).Msg("Catalog loaded")
	return nil
}

// List returns a copy of every entry.
func (s *CatalogService) List() []model.CatalogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.CatalogEntry(nil), s.entries...)
}

// Enabled returns a copy of the entries offered to terminals.
func (s *CatalogService) Enabled() []model.CatalogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enabled := make([]model.CatalogEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Enabled {
			enabled = append(enabled, e)
		}
	}
	return enabled
}

// Get returns the entry with the given id.
func (s *CatalogService) Get(id string) (model.CatalogEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		return s.entries[i], true
	}
	return model.CatalogEntry{}, false
}

// Count returns the number of entries.
func (s *CatalogService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Dir resolves an entry id to its storage directory.
func (s *CatalogService) Dir(id string) (string, error) {
	if _, ok := s.Get(id); !ok {
		return "", fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return s.entryDir(id), nil
}

// Add assigns a new id to e, creates its storage directory and persists the
// catalog before returning the stored entry.
func (s *CatalogService) Add(e model.CatalogEntry) (model.CatalogEntry, error) {
	if strings.TrimSpace(e.Name) == "" {
		return model.CatalogEntry{}, fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}

	now := s.now().UTC()
	e.ID = uuid.NewString()
	e.StoragePath = filepath.ToSlash(filepath.Join(gamesDir, e.ID))
	e.SizeBytes = 0
	e.AddedAt = now
	e.UpdatedAt = now

	if err := os.MkdirAll(s.entryDir(e.ID), 0o755); err != nil {
		return model.CatalogEntry{}, fmt.Errorf("failed to create entry directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, e)
	if err := s.persist(); err != nil {
		s.entries = s.entries[:len(s.entries)-1]
		return model.CatalogEntry{}, err
	}

	log.Info().Str("entry_id", e.ID).Str("name", e.Name).Msg("Catalog entry added")
	return e, nil
}

// Update replaces the metadata of an existing entry. Identity, storage path
// and creation time are kept; the size is recomputed from disk.
func (s *CatalogService) Update(e model.CatalogEntry) (model.CatalogEntry, error) {
	if strings.TrimSpace(e.Name) == "" {
		return model.CatalogEntry{}, fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}

	size, err := dirSize(s.entryDir(e.ID))
	if err != nil {
		return model.CatalogEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(e.ID)
	if i < 0 {
		return model.CatalogEntry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, e.ID)
	}

	prev := s.entries[i]
	e.StoragePath = prev.StoragePath
	e.AddedAt = prev.AddedAt
	e.UpdatedAt = s.now().UTC()
	e.SizeBytes = size

	s.entries[i] = e
	if err := s.persist(); err != nil {
		s.entries[i] = prev
		return model.CatalogEntry{}, err
	}

	log.Info().Str("entry_id", e.ID).Msg("Catalog entry updated")
	return e, nil
}

// Remove deletes an entry, persists the catalog, then deletes its files.
func (s *CatalogService) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}

	prev := s.entries
	s.entries = append(append([]model.CatalogEntry(nil), prev[:i]...), prev[i+1:]...)
	if err := s.persist(); err != nil {
		s.entries = prev
		return err
	}

	if err := os.RemoveAll(s.entryDir(id)); err != nil {
		log.Warn().Err(err).Str("entry_id", id).Msg("Failed to delete entry files")
	}

	log.Info().Str("entry_id", id).Msg("Catalog entry removed")
	return nil
}

func (s *CatalogService) indexOf(id string) int {
	for i := range s.entries {
		if s.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// persist writes the catalog atomically. Callers hold s.mu.
func (s *CatalogService) persist() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.catalogPath()), catalogFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to persist catalog: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist catalog: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.catalogPath()); err != nil {
		return fmt.Errorf("failed to persist catalog: %w", err)
	}
	return nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s: %w", dir, err)
	}
	return total, nil
}

// Package filetransfer serves byte ranges of catalog files to terminals.
package filetransfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agmm7834/MyNetBoot-v2/internal/model"
	"github.com/agmm7834/MyNetBoot-v2/internal/pkg/cache"
	"github.com/agmm7834/MyNetBoot-v2/internal/protocol"
)

// Transfer errors. Each is reported to the terminal as a file-error.
var (
	ErrFileNotFound  = errors.New("file not found")
	ErrInvalidPath   = errors.New("invalid file path")
	ErrInvalidOffset = errors.New("invalid offset")
)

// Resolver maps a catalog entry id to its storage directory.
type Resolver interface {
	Dir(entryID string) (string, error)
}

// Service answers file requests. Chunk reads are never cached: every request
// opens and seeks the file. Only the per-entry file manifest is cached.
type Service struct {
	resolver    Resolver
	maxChunk    int
	manifests   *cache.MemoryCache[[]model.FileInfo]
	transferred atomic.Int64
}

// NewService creates a Service. Requested chunk sizes are capped at maxChunk.
func NewService(resolver Resolver, maxChunk int, manifestTTL time.Duration) *Service {
	return &Service{
		resolver:  resolver,
		maxChunk:  maxChunk,
		manifests: cache.NewMemoryCache[[]model.FileInfo](manifestTTL, 2*manifestTTL),
	}
}

// BytesTransferred returns the total payload bytes served since start.
func (s *Service) BytesTransferred() int64 {
	return s.transferred.Load()
}

// ReadChunk reads the requested range. A request at or past end of file
// yields an empty chunk with IsLast set.
func (s *Service) ReadChunk(req *protocol.FileRequest) (*protocol.FileChunk, error) {
	if req.Offset < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOffset, req.Offset)
	}

	dir, err := s.resolver.Dir(req.EntryID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}
	path, err := resolvePath(dir, req.Path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, req.Path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", req.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", req.Path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, req.Path)
	}

	total := info.Size()
	chunk := &protocol.FileChunk{
		EntryID:   req.EntryID,
		Path:      req.Path,
		Offset:    req.Offset,
		TotalSize: total,
		Data:      []byte{},
	}
	if req.Offset >= total {
		chunk.IsLast = true
		return chunk, nil
	}

	size := s.maxChunk
	if req.ChunkSize > 0 && req.ChunkSize < size {
		size = req.ChunkSize
	}
	if remaining := total - req.Offset; int64(size) > remaining {
		size = int(remaining)
	}

	if _, err := f.Seek(req.Offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek %s: %w", req.Path, err)
	}
	buf := make([]byte, size)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read %s: %w", req.Path, err)
	}

	chunk.Data = buf[:n]
	chunk.IsLast = req.Offset+int64(n) >= total
	s.transferred.Add(int64(n))
	return chunk, nil
}

// Manifest lists the regular files of an entry with slash-separated relative
// paths, sorted by path.
func (s *Service) Manifest(ctx context.Context, entryID string) ([]model.FileInfo, error) {
	dir, err := s.resolver.Dir(entryID)
	if err != nil {
		return nil, err
	}
	return s.manifests.GetOrFetch(ctx, entryID, func(context.Context) ([]model.FileInfo, error) {
		return walkManifest(dir)
	})
}

// Invalidate drops the cached manifest of an entry.
func (s *Service) Invalidate(entryID string) {
	s.manifests.Delete(entryID)
}

func walkManifest(dir string) ([]model.FileInfo, error) {
	files := []model.FileInfo{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, model.FileInfo{Path: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return files, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// resolvePath joins a client-supplied relative path onto dir, rejecting
// anything that would leave dir. Both slash styles are accepted.
func resolvePath(dir, rel string) (string, error) {
	rel = strings.ReplaceAll(rel, `\`, "/")
	local := filepath.FromSlash(rel)
	if rel == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return filepath.Join(dir, local), nil
}

// Package rowfilestest provides in-memory rowfiles ports for tests.
package rowfilestest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"jan-server/services/attachments-api/internal/domain/rowfiles"
)

// Repository keeps file metadata in memory. UpsertBatch swaps the whole batch
// under one mutex so readers observe either the old or the new set.
type Repository struct {
	mu      sync.RWMutex
	entries map[string]map[string]rowfiles.FileEntry

	// FailUpsert makes the next UpsertBatch calls fail.
	FailUpsert error
	// OnUpsert runs before a batch is applied.
	OnUpsert func(scope rowfiles.RowScope, entries []rowfiles.FileEntry)
}

func NewRepository() *Repository {
	return &Repository{entries: make(map[string]map[string]rowfiles.FileEntry)}
}

func (r *Repository) ListByScope(_ context.Context, scope rowfiles.RowScope) ([]rowfiles.FileEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	files := r.entries[scope.String()]
	out := make([]rowfiles.FileEntry, 0, len(files))
	for _, f := range files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (r *Repository) FindByPath(_ context.Context, scope rowfiles.RowScope, path string) (*rowfiles.FileEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.entries[scope.String()][path]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (r *Repository) UpsertBatch(_ context.Context, scope rowfiles.RowScope, entries []rowfiles.FileEntry) error {
	if r.OnUpsert != nil {
		r.OnUpsert(scope, entries)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailUpsert != nil {
		return r.FailUpsert
	}
	key := scope.String()
	if r.entries[key] == nil {
		r.entries[key] = make(map[string]rowfiles.FileEntry)
	}
	for _, e := range entries {
		r.entries[key][e.Path] = e
	}
	return nil
}

// Put seeds an entry directly.
func (r *Repository) Put(scope rowfiles.RowScope, entry rowfiles.FileEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := scope.String()
	if r.entries[key] == nil {
		r.entries[key] = make(map[string]rowfiles.FileEntry)
	}
	r.entries[key][entry.Path] = entry
}

type object struct {
	data        []byte
	contentType string
}

// Storage keeps objects in memory.
type Storage struct {
	mu      sync.Mutex
	objects map[string]object

	// FailUploadAfter makes uploads fail once this many have succeeded; negative disables.
	FailUploadAfter int
	uploads         int
	// FailDownload makes every download fail.
	FailDownload error
}

func NewStorage() *Storage {
	return &Storage{objects: make(map[string]object), FailUploadAfter: -1}
}

var ErrInjected = errors.New("injected storage failure")

func (s *Storage) Upload(ctx context.Context, key string, body io.Reader, _ int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUploadAfter >= 0 && s.uploads >= s.FailUploadAfter {
		return ErrInjected
	}
	s.uploads++
	s.objects[key] = object{data: data, contentType: contentType}
	return nil
}

func (s *Storage) Download(_ context.Context, key string) (io.ReadCloser, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDownload != nil {
		return nil, "", s.FailDownload
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("object %q not found", key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.contentType, nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Seed stores data under key directly.
func (s *Storage) Seed(key string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: data, contentType: contentType}
}

// Keys returns the stored object keys, sorted.
func (s *Storage) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

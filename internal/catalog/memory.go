package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/site-mirror/internal/mirror"
)

// MemoryRepository keeps artifacts in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]mirror.Artifact
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]mirror.Artifact)}
}

// Insert implements Repository.
func (r *MemoryRepository) Insert(_ context.Context, a mirror.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.Changelog = append([]string{}, a.Changelog...)
	r.items[a.ID] = a
	return nil
}

// List implements Repository.
func (r *MemoryRepository) List(_ context.Context, limit, offset int) ([]mirror.Artifact, int, error) {
	all := r.sorted()
	total := len(all)
	if offset >= total {
		return []mirror.Artifact{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// CreatedBefore implements Repository.
func (r *MemoryRepository) CreatedBefore(_ context.Context, cutoff time.Time) ([]mirror.Artifact, error) {
	var out []mirror.Artifact
	for _, a := range r.sorted() {
		if !a.CreatedAt.After(cutoff) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Delete implements Repository.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *MemoryRepository) sorted() []mirror.Artifact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mirror.Artifact, 0, len(r.items))
	for _, a := range r.items {
		a.Changelog = append([]string{}, a.Changelog...)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

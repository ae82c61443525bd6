package workflow

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/sahl/claims-bridge/internal/platform/apperrors"
)

// Store holds in-flight and finished workflows for the process lifetime.
// Workflow state is deliberately not persisted; only submission
// transactions are. An explicit Store instead of a package-level map keeps
// tests able to construct isolated instances.
type Store struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Workflow
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{items: make(map[uuid.UUID]*Workflow)}
}

func (s *Store) put(w *Workflow) {
	s.mu.Lock()
	s.items[w.ID] = w
	s.mu.Unlock()
}

// update applies fn to the workflow under the store lock. All mutations of
// a stored workflow go through here; reads hand out snapshots.
func (s *Store) update(id uuid.UUID, fn func(*Workflow) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.items[id]
	if !ok {
		return errNotFound(id)
	}
	return fn(w)
}

// Get returns a snapshot of one workflow.
func (s *Store) Get(id uuid.UUID) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.items[id]
	if !ok {
		return nil, errNotFound(id)
	}
	return w.snapshot(), nil
}

// List returns workflow snapshots sorted by creation time descending,
// optionally filtered by status. limit <= 0 returns everything.
func (s *Store) List(status string, limit int) []*Workflow {
	s.mu.RLock()
	out := make([]*Workflow, 0, len(s.items))
	for _, w := range s.items {
		if status != "" && w.Status != status {
			continue
		}
		out = append(out, w.snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func errNotFound(id uuid.UUID) error {
	return apperrors.Validation("workflow not found").
		WithCode("WORKFLOW-NOT-FOUND").
		WithDetail("workflow_id", id.String())
}

package share

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps grants in process. Token uniqueness is enforced under
// its mutex the same way the Postgres constraint enforces it.
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[string]*Grant
	views  map[string][]View
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grants: make(map[string]*Grant),
		views:  make(map[string][]View),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, g Grant) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.grants[g.Token]; exists {
		return Grant{}, ErrDuplicateToken
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Grant{}, err
	}
	g.ID = id.String()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}

	stored := g
	s.grants[g.Token] = &stored
	return g, nil
}

func (s *MemoryStore) FindByToken(ctx context.Context, token string) (Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[token]
	if !ok {
		return Grant{}, ErrGrantNotFound
	}
	return *g, nil
}

func (s *MemoryStore) ListByVideo(ctx context.Context, videoID string) ([]GrantSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]GrantSummary, 0)
	for _, g := range s.grants {
		if g.VideoID != videoID {
			continue
		}
		items = append(items, GrantSummary{Grant: *g, Views: int64(len(s.views[g.ID]))})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, token, ownerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[token]
	if !ok || g.SharedBy != ownerID {
		return ErrGrantNotFound
	}
	if g.RevokedAt == nil {
		revokedAt := at
		g.RevokedAt = &revokedAt
	}
	return nil
}

func (s *MemoryStore) RecordView(ctx context.Context, v View) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.views[v.ShareID] = append(s.views[v.ShareID], v)
	return nil
}

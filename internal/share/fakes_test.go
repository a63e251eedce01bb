package share

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/videobox/videobox/internal/identity"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAssets struct {
	mu      sync.Mutex
	assets  map[string]Asset
	getErr  error
	signErr error
	block   bool
	signed  int
}

func (f *fakeAssets) GetAsset(ctx context.Context, videoID string) (Asset, error) {
	if f.block {
		<-ctx.Done()
		return Asset{}, ctx.Err()
	}
	if f.getErr != nil {
		return Asset{}, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assets[videoID]
	if !ok {
		return Asset{}, ErrAssetNotFound
	}
	return a, nil
}

func (f *fakeAssets) SignPlaybackURL(ctx context.Context, asset Asset) (string, time.Time, error) {
	if f.signErr != nil {
		return "", time.Time{}, f.signErr
	}
	f.mu.Lock()
	f.signed++
	f.mu.Unlock()
	return "https://s3.test/" + asset.FileKey + "?X-Amz-Signature=abc", baseTime.Add(time.Hour), nil
}

type fakeDirectory struct {
	users []identity.User
	err   error
	block bool
}

func (f *fakeDirectory) Resolve(ctx context.Context, ref string) (identity.User, error) {
	if f.block {
		<-ctx.Done()
		return identity.User{}, ctx.Err()
	}
	if f.err != nil {
		return identity.User{}, f.err
	}
	for _, u := range f.users {
		if u.ID == ref || strings.EqualFold(u.Email, ref) {
			return u, nil
		}
	}
	return identity.User{}, identity.ErrNotFound
}

// failingStore wraps a MemoryStore and fails the operations named by its fields.
type failingStore struct {
	*MemoryStore
	insertErr error
	findErr   error
	viewErr   error
}

func (s *failingStore) Insert(ctx context.Context, g Grant) (Grant, error) {
	if s.insertErr != nil {
		return Grant{}, s.insertErr
	}
	return s.MemoryStore.Insert(ctx, g)
}

func (s *failingStore) FindByToken(ctx context.Context, token string) (Grant, error) {
	if s.findErr != nil {
		return Grant{}, s.findErr
	}
	return s.MemoryStore.FindByToken(ctx, token)
}

func (s *failingStore) RecordView(ctx context.Context, v View) error {
	if s.viewErr != nil {
		return s.viewErr
	}
	return s.MemoryStore.RecordView(ctx, v)
}

type fixture struct {
	store     *MemoryStore
	assets    *fakeAssets
	directory *fakeDirectory
	registry  *Registry
	evaluator *Evaluator
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, nil, RegistryConfig{}, EvaluatorConfig{RequireRecipientMatch: true})
}

func newFixtureWithStore(t *testing.T, store Store, rcfg RegistryConfig, ecfg EvaluatorConfig) *fixture {
	t.Helper()
	f := &fixture{
		store: NewMemoryStore(),
		assets: &fakeAssets{assets: map[string]Asset{
			"video-1": {
				VideoID:     "video-1",
				OwnerID:     "coach-1",
				FileName:    "lecture.mp4",
				CourseName:  "Swimming 101",
				FileKey:     "recordings/coach-1/video-1.mp4",
				ContentType: "video/mp4",
				Duration:    95,
			},
			"video-2": {VideoID: "video-2", OwnerID: "coach-2", FileName: "other.mp4", FileKey: "recordings/coach-2/video-2.mp4"},
		}},
		directory: &fakeDirectory{users: []identity.User{
			{ID: "coach-1", Email: "coach@example.com", Role: "coach"},
			{ID: "alice-id", Email: "Alice@Example.com", Role: "student"},
			{ID: "bob-id", Email: "bob@example.com", Role: "student"},
		}},
		now: baseTime,
	}
	if store == nil {
		store = f.store
	}

	f.registry = NewRegistry(store, f.assets, f.directory, rcfg)
	f.registry.WithNowFunc(func() time.Time { return f.now })
	f.evaluator = NewEvaluator(f.registry, f.assets, f.directory, ecfg)
	f.evaluator.WithNowFunc(func() time.Time { return f.now })
	return f
}

func (f *fixture) issue(t *testing.T, recipient string, starts, expires *time.Time) Grant {
	t.Helper()
	grant, err := f.registry.Issue(context.Background(), IssueRequest{
		VideoID:   "video-1",
		IssuerID:  "coach-1",
		Recipient: recipient,
		Starts:    starts,
		Expires:   expires,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return grant
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected kind %s, got %s (%v)", want, got, err)
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

var errBoom = errors.New("boom")

//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/chatkit-shell/internal/domain"
)

type fakeRepo struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	facts   map[string][]*domain.Fact
	pingErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users: make(map[string]*domain.User),
		facts: make(map[string][]*domain.Fact),
	}
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	if user == nil {
		return nil, nil
	}
	copy := *user
	return &copy, nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *user
	f.users[user.UserID] = &copy
	return nil
}

func (f *fakeRepo) UpdateLastSeen(_ context.Context, _ string, _ time.Time) error { return nil }

func (f *fakeRepo) UpdateColorScheme(_ context.Context, userID string, pref domain.SchemePreference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	if user == nil {
		return errors.New("user not found")
	}
	user.ColorScheme = pref
	return nil
}

func (f *fakeRepo) SaveFact(_ context.Context, fact *domain.Fact) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.facts[fact.UserID] {
		if existing.FactID == fact.FactID {
			return false, nil
		}
	}
	copy := *fact
	f.facts[fact.UserID] = append(f.facts[fact.UserID], &copy)
	return true, nil
}

func (f *fakeRepo) ListFacts(_ context.Context, userID string, limit int) ([]*domain.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]*domain.Fact(nil), f.facts[userID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) DeleteFactsBefore(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func (f *fakeRepo) Ping(_ context.Context) error { return f.pingErr }
func (f *fakeRepo) Close() error                 { return nil }

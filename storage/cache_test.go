package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/purushoth411/postmanback/domain"
)

type stubCatalog struct {
	milestoneCalls atomic.Int32
	actorCalls     atomic.Int32
	completions    atomic.Int32
	milestones     map[domain.MilestoneID]domain.Milestone
	actorErr       error
	delay          time.Duration
}

func (s *stubCatalog) LookupMilestone(ctx context.Context, id domain.MilestoneID, status domain.CatalogStatus) (*domain.Milestone, error) {
	s.milestoneCalls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	m, ok := s.milestones[id]
	if !ok || (status != "" && m.Status != status) {
		return nil, nil
	}
	return &m, nil
}

func (s *stubCatalog) FirstCompletion(ctx context.Context, taskID domain.TaskID, id domain.MilestoneID) (*domain.CompletionRow, error) {
	s.completions.Add(1)
	return nil, nil
}

func (s *stubCatalog) ActorName(ctx context.Context, id domain.ActorID) (string, error) {
	s.actorCalls.Add(1)
	if s.actorErr != nil {
		return "", s.actorErr
	}
	return "Asha Rao", nil
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCachedCatalogMilestoneMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	base := &stubCatalog{milestones: map[domain.MilestoneID]domain.Milestone{
		54: {ID: 54, Name: "Initial discussion", Weight: 10, Status: domain.CatalogActive},
	}}
	cache := NewCachedCatalog(base, client, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m, err := cache.LookupMilestone(ctx, 54, domain.CatalogActive)
		if err != nil || m == nil || m.Weight != 10 {
			t.Fatalf("lookup %d: %#v (%v)", i, m, err)
		}
	}
	if got := base.milestoneCalls.Load(); got != 1 {
		t.Fatalf("expected 1 base call, got %d", got)
	}
	if m, err := cache.LookupMilestone(ctx, 54, domain.CatalogInactive); err != nil || m != nil {
		t.Fatalf("status filter not applied: %#v (%v)", m, err)
	}
	if !mr.Exists(milestoneCacheKey(54)) {
		t.Fatalf("expected cache key")
	}
	if ttl := mr.TTL(milestoneCacheKey(54)); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestCachedCatalogCachesMisses(t *testing.T) {
	_, client := newTestRedis(t)
	base := &stubCatalog{}
	cache := NewCachedCatalog(base, client, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if m, err := cache.LookupMilestone(ctx, 99, ""); err != nil || m != nil {
			t.Fatalf("expected miss, got %#v (%v)", m, err)
		}
	}
	if got := base.milestoneCalls.Load(); got != 1 {
		t.Fatalf("expected negative caching, got %d base calls", got)
	}
}

func TestCachedCatalogEvictMilestone(t *testing.T) {
	mr, client := newTestRedis(t)
	base := &stubCatalog{milestones: map[domain.MilestoneID]domain.Milestone{54: {ID: 54, Name: "a", Status: domain.CatalogActive}}}
	cache := NewCachedCatalog(base, client, time.Minute)
	ctx := context.Background()

	if _, err := cache.LookupMilestone(ctx, 54, ""); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	cache.EvictMilestone(ctx, 54)
	if mr.Exists(milestoneCacheKey(54)) {
		t.Fatalf("expected key evicted")
	}
	if _, err := cache.LookupMilestone(ctx, 54, ""); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got := base.milestoneCalls.Load(); got != 2 {
		t.Fatalf("expected reload after eviction, got %d calls", got)
	}
}

func TestCachedCatalogCorruptEntryFallsBack(t *testing.T) {
	mr, client := newTestRedis(t)
	base := &stubCatalog{}
	cache := NewCachedCatalog(base, client, time.Minute)
	if err := mr.Set(actorCacheKey(7), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	name, err := cache.ActorName(context.Background(), 7)
	if err != nil || name != "Asha Rao" {
		t.Fatalf("unexpected name %q (%v)", name, err)
	}
	if got, _ := mr.Get(actorCacheKey(7)); got != `"Asha Rao"` {
		t.Fatalf("expected refreshed cache entry, got %q", got)
	}
}

func TestCachedCatalogErrorsAreNotCached(t *testing.T) {
	mr, client := newTestRedis(t)
	base := &stubCatalog{actorErr: errors.New("table unavailable")}
	cache := NewCachedCatalog(base, client, time.Minute)
	if _, err := cache.ActorName(context.Background(), 7); err == nil {
		t.Fatalf("expected error")
	}
	if mr.Exists(actorCacheKey(7)) {
		t.Fatalf("error result must not be cached")
	}
}

func TestCachedCatalogCollapsesConcurrentMisses(t *testing.T) {
	_, client := newTestRedis(t)
	base := &stubCatalog{delay: 50 * time.Millisecond, milestones: map[domain.MilestoneID]domain.Milestone{1: {ID: 1, Name: "x", Status: domain.CatalogActive}}}
	cache := NewCachedCatalog(base, client, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.LookupMilestone(context.Background(), 1, ""); err != nil {
				t.Errorf("lookup: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := base.milestoneCalls.Load(); got > 2 {
		t.Fatalf("expected concurrent misses to collapse, got %d base calls", got)
	}
}

func TestCachedCatalogWithoutRedis(t *testing.T) {
	base := &stubCatalog{}
	cache := NewCachedCatalog(base, nil, time.Minute)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := cache.ActorName(ctx, 1); err != nil {
			t.Fatalf("actor: %v", err)
		}
	}
	if base.actorCalls.Load() != 2 {
		t.Fatalf("expected pass-through without redis")
	}
	if _, err := cache.FirstCompletion(ctx, 1, 1); err != nil || base.completions.Load() != 1 {
		t.Fatalf("first completion should pass through")
	}
}

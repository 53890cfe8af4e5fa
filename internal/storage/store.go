package storage

import (
	"context"
	"fmt"
	"sync"

	"nelculobot/pkg/logx"
)

type setStore struct {
	driver string
	log    logx.Logger

	mu sync.Mutex
	be backend
}

func newSetStore(driver string, be backend, log logx.Logger) *setStore {
	return &setStore{driver: driver, be: be, log: log.With(logx.String("driver", driver))}
}

func (s *setStore) Driver() string { return s.driver }

func (s *setStore) Load(ctx context.Context) Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.be.load(ctx)
	if err != nil {
		s.log.Warn("subscribers load failed; using empty set", logx.Err(err))
		return Set{}
	}
	return set
}

func (s *setStore) Save(ctx context.Context, set Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.be.save(ctx, set)
}

// mutate loads, applies fn and saves when fn reports a change. A failing
// load aborts the mutation so a transient backend error never overwrites the
// persisted set with a partial one.
func (s *setStore) mutate(ctx context.Context, op string, fn func(Set) int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.be.load(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: load: %w", op, err)
	}
	n := fn(set)
	if n == 0 {
		return 0, nil
	}
	if err := s.be.save(ctx, set); err != nil {
		return 0, fmt.Errorf("%s: save: %w", op, err)
	}
	s.log.Debug("subscribers updated", logx.String("op", op), logx.Int("changed", n), logx.Int("total", set.Len()))
	return n, nil
}

func (s *setStore) Add(ctx context.Context, id string) (bool, error) {
	n, err := s.mutate(ctx, "add", func(set Set) int {
		if set.Add(id) {
			return 1
		}
		return 0
	})
	return n > 0, err
}

func (s *setStore) Remove(ctx context.Context, id string) (bool, error) {
	id = normalizeID(id)
	n, err := s.mutate(ctx, "remove", func(set Set) int {
		if _, ok := set[id]; !ok {
			return 0
		}
		delete(set, id)
		return 1
	})
	return n > 0, err
}

func (s *setStore) Import(ctx context.Context, ids []string) (int, error) {
	return s.mutate(ctx, "import", func(set Set) int {
		added := 0
		for _, id := range ids {
			if set.Add(id) {
				added++
			}
		}
		return added
	})
}

func (s *setStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.be.close()
}

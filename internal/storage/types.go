package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

// Config configures the subscriber store.
//
// Driver values:
//   - "file": JSON array of IDs, written via temp file + rename
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "redis": one SET key
type Config struct {
	Driver      string
	Path        string        // file: subscribers JSON; sqlite: database file
	BusyTimeout time.Duration // sqlite only; 0 means default

	Redis RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Set is a set of subscriber IDs (numeric chat IDs or @channel handles).
type Set map[string]struct{}

func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id after trimming it. It reports whether id was new.
func (s Set) Add(id string) bool {
	id = normalizeID(id)
	if id == "" {
		return false
	}
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

func (s Set) Has(id string) bool {
	_, ok := s[normalizeID(id)]
	return ok
}

func (s Set) Len() int { return len(s) }

// Sorted returns the IDs in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s Set) Clone() Set {
	out := make(Set, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

func normalizeID(id string) string { return strings.TrimSpace(id) }

// Store persists the subscriber set. Every mutation is a full
// read-modify-write under one mutex.
type Store interface {
	// Load never fails: a missing, corrupt or unreachable backend yields an
	// empty set (the cause is logged).
	Load(ctx context.Context) Set
	Save(ctx context.Context, s Set) error

	Add(ctx context.Context, id string) (added bool, err error)
	Remove(ctx context.Context, id string) (removed bool, err error)
	// Import adds every new ID and reports how many were added.
	Import(ctx context.Context, ids []string) (added int, err error)

	Driver() string
	Close() error
}

// backend is the raw load/save pair each driver implements.
type backend interface {
	load(ctx context.Context) (Set, error)
	save(ctx context.Context, s Set) error
	close() error
}

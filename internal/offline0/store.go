package offline0

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Store holds named partitions of request->response snapshots.
// A missing entry is reported as ok=false, never as an error.
type Store interface {
	// Open returns the named partition, creating it if absent.
	Open(ctx context.Context, name string) (Partition, error)
	// Names lists every existing partition.
	Names(ctx context.Context) ([]string, error)
	// DeleteFunc removes every partition whose name satisfies pred and
	// returns the deleted names.
	DeleteFunc(ctx context.Context, pred func(name string) bool) ([]string, error)
	Close() error
}

// Partition is one named bucket inside a Store.
type Partition interface {
	Name() string
	Match(ctx context.Context, key string) (Response, bool, error)
	// Put stores a clone of resp under key, replacing any previous entry.
	Put(ctx context.Context, key string, resp Response) error
	Keys(ctx context.Context) ([]string, error)
}

// Pinner is implemented by stores that evict entries to stay within a size
// budget. A pinned partition keeps every entry until the partition is deleted.
type Pinner interface {
	Pin(name string)
}

// OpenStore builds the backend selected in cfg.Storage.
func OpenStore(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return NewMemoryStore(cfg.Storage.RAM.maxBytes, logger), nil
	case "", "leveldb":
		return NewLevelDBStore(cfg.Storage.LevelDB.Path, logger)
	case "redis":
		return NewRedisStore(ctx, &RedisConfig{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		}, logger)
	default:
		return nil, fmt.Errorf("storage.backend %q: %w", cfg.Storage.Backend, ErrUnknownBackend)
	}
}

// ---- memory store ----

// MemoryStore keeps partitions in process memory. Each partition is an LRU
// bounded by maxBytes (0 means unbounded) unless it is pinned.
type MemoryStore struct {
	maxBytes    int64
	overflowLog *rateLimitedLogger

	mu     sync.Mutex
	parts  map[string]*memPartition
	pinned map[string]struct{}
}

func NewMemoryStore(maxBytes int64, logger zerolog.Logger) *MemoryStore {
	l := logger.With().Str("component", "MemoryStore").Logger()
	return &MemoryStore{
		maxBytes:    maxBytes,
		overflowLog: newRateLimitedLogger(l, defaultOverflowLogEvery),
		parts:       map[string]*memPartition{},
		pinned:      map[string]struct{}{},
	}
}

// Pin exempts the named partition from the size budget, now and whenever it
// is recreated.
func (s *MemoryStore) Pin(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned[name] = struct{}{}
	if p, ok := s.parts[name]; ok {
		p.unbound()
	}
}

func (s *MemoryStore) Open(_ context.Context, name string) (Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[name]
	if !ok {
		limit := s.maxBytes
		if _, pin := s.pinned[name]; pin {
			limit = 0
		}
		p = newMemPartition(name, limit, s.overflowLog)
		s.parts[name] = p
	}
	return p, nil
}

func (s *MemoryStore) Names(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.parts))
	for n := range s.parts {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) DeleteFunc(_ context.Context, pred func(string) bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []string
	for n := range s.parts {
		if pred(n) {
			delete(s.parts, n)
			deleted = append(deleted, n)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

func (s *MemoryStore) Close() error { return nil }

type memItem struct {
	key  string
	resp Response
	size int64
}

type memPartition struct {
	name        string
	maxBytes    int64
	overflowLog *rateLimitedLogger

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	total int64
}

func newMemPartition(name string, maxBytes int64, overflowLog *rateLimitedLogger) *memPartition {
	return &memPartition{
		name:        name,
		maxBytes:    maxBytes,
		overflowLog: overflowLog,
		ll:          list.New(),
		items:       map[string]*list.Element{},
	}
}

func (p *memPartition) unbound() {
	p.mu.Lock()
	p.maxBytes = 0
	p.mu.Unlock()
}

func (p *memPartition) Name() string { return p.name }

func (p *memPartition) Match(_ context.Context, key string) (Response, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.items[key]
	if !ok {
		return Response{}, false, nil
	}
	p.ll.MoveToFront(el)
	return el.Value.(*memItem).resp.Clone(), true, nil
}

func (p *memPartition) Put(_ context.Context, key string, resp Response) error {
	resp = resp.Clone()
	sz := resp.size()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.maxBytes > 0 && sz > p.maxBytes {
		return fmt.Errorf("entry %q (%s) in partition %s over %s: %w",
			key, formatBytes(uint64(sz)), p.name, formatBytes(uint64(p.maxBytes)), ErrEntryTooLarge)
	}

	if el, ok := p.items[key]; ok {
		it := el.Value.(*memItem)
		p.total -= it.size
		it.resp = resp
		it.size = sz
		p.total += sz
		p.ll.MoveToFront(el)
	} else {
		p.items[key] = p.ll.PushFront(&memItem{key: key, resp: resp, size: sz})
		p.total += sz
	}

	for p.maxBytes > 0 && p.total > p.maxBytes && p.ll.Len() > 1 {
		p.evictLocked()
		p.overflowLog.Printf("partition %s over %s, evicting", p.name, formatBytes(uint64(p.maxBytes)))
	}
	return nil
}

func (p *memPartition) Keys(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.items))
	for k := range p.items {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// evictLocked drops the least recently used tenth of the partition, at least one item.
func (p *memPartition) evictLocked() {
	n := p.ll.Len() / 10
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		el := p.ll.Back()
		if el == nil {
			return
		}
		it := p.ll.Remove(el).(*memItem)
		delete(p.items, it.key)
		p.total -= it.size
	}
}

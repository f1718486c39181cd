package offline0_test

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offline0/internal/offline0"
)

// runStoreContract checks behaviour every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) offline0.Store) {
	ctx := context.Background()

	t.Run("miss is not an error", func(t *testing.T) {
		s := newStore(t)
		p, err := s.Open(ctx, "static-v1")
		require.NoError(t, err)
		_, ok, err := p.Match(ctx, "GET "+testOrigin+"/nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("put then match", func(t *testing.T) {
		s := newStore(t)
		p, err := s.Open(ctx, "static-v1")
		require.NoError(t, err)
		assert.Equal(t, "static-v1", p.Name())

		resp := textResponse(http.StatusOK, "hello")
		resp.Header.Set("ETag", `"abc"`)
		resp.StoredAt = 1700000000
		require.NoError(t, p.Put(ctx, "GET "+testOrigin+"/", resp))

		got, ok, err := p.Match(ctx, "GET "+testOrigin+"/")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, http.StatusOK, got.Status)
		assert.Equal(t, "hello", string(got.Body))
		assert.Equal(t, `"abc"`, got.Header.Get("ETag"))
		assert.Equal(t, resp.Hash32, got.Hash32)
		assert.Equal(t, int64(1700000000), got.StoredAt)
	})

	t.Run("last write wins", func(t *testing.T) {
		s := newStore(t)
		p, err := s.Open(ctx, "dynamic-v1")
		require.NoError(t, err)
		key := "GET " + testOrigin + "/about"
		for i := 0; i < 5; i++ {
			require.NoError(t, p.Put(ctx, key, textResponse(http.StatusOK, fmt.Sprintf("rev %d", i))))
		}
		got, ok, err := p.Match(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "rev 4", string(got.Body))

		keys, err := p.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{key}, keys)
	})

	t.Run("partitions are isolated", func(t *testing.T) {
		s := newStore(t)
		a, err := s.Open(ctx, "static-v1")
		require.NoError(t, err)
		b, err := s.Open(ctx, "static-v10")
		require.NoError(t, err)
		require.NoError(t, a.Put(ctx, "k", textResponse(http.StatusOK, "a")))

		_, ok, err := b.Match(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
		keys, err := b.Keys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("delete func keeps the rest", func(t *testing.T) {
		s := newStore(t)
		for _, n := range []string{"static-v1", "dynamic-v1", "static-v2", "dynamic-v2"} {
			p, err := s.Open(ctx, n)
			require.NoError(t, err)
			require.NoError(t, p.Put(ctx, "k", textResponse(http.StatusOK, n)))
		}

		deleted, err := s.DeleteFunc(ctx, func(name string) bool { return strings.HasSuffix(name, "-v1") })
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"static-v1", "dynamic-v1"}, deleted)

		names, err := s.Names(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"dynamic-v2", "static-v2"}, names)

		// Reopening a deleted partition yields an empty one.
		p, err := s.Open(ctx, "static-v1")
		require.NoError(t, err)
		_, ok, err := p.Match(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("stored copy is independent of the caller", func(t *testing.T) {
		s := newStore(t)
		p, err := s.Open(ctx, "static-v1")
		require.NoError(t, err)
		resp := textResponse(http.StatusOK, "abc")
		require.NoError(t, p.Put(ctx, "k", resp))
		resp.Body[0] = 'X'
		resp.Header.Set("Content-Type", "changed")

		got, _, err := p.Match(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "abc", string(got.Body))
		assert.Equal(t, "text/plain; charset=utf-8", got.Header.Get("Content-Type"))

		got.Body[0] = 'Y'
		again, _, err := p.Match(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "abc", string(again.Body))
	})

	t.Run("concurrent writers", func(t *testing.T) {
		s := newStore(t)
		p, err := s.Open(ctx, "dynamic-v1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = p.Put(ctx, fmt.Sprintf("k%d", i), textResponse(http.StatusOK, "v"))
			}(i)
		}
		wg.Wait()

		keys, err := p.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 8)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) offline0.Store {
		return offline0.NewMemoryStore(0, zerolog.Nop())
	})
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	one := textResponse(http.StatusOK, strings.Repeat("x", 100))
	// Budget fits three entries of this size but not four.
	s := offline0.NewMemoryStore(3*entrySize(one)+10, zerolog.Nop())
	p, err := s.Open(ctx, "dynamic-v1")
	require.NoError(t, err)

	require.NoError(t, p.Put(ctx, "a", one))
	require.NoError(t, p.Put(ctx, "b", one))
	require.NoError(t, p.Put(ctx, "c", one))
	_, _, err = p.Match(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, p.Put(ctx, "d", one))

	keys, err := p.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d"}, keys)
}

func TestMemoryStore_OversizeEntryIsRejected(t *testing.T) {
	ctx := context.Background()
	s := offline0.NewMemoryStore(64, zerolog.Nop())
	p, err := s.Open(ctx, "dynamic-v1")
	require.NoError(t, err)

	err = p.Put(ctx, "big", textResponse(http.StatusOK, strings.Repeat("x", 1024)))
	assert.ErrorIs(t, err, offline0.ErrEntryTooLarge)
	_, ok, err := p.Match(ctx, "big")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_PinnedPartitionKeepsEverything(t *testing.T) {
	ctx := context.Background()
	one := textResponse(http.StatusOK, strings.Repeat("x", 100))
	s := offline0.NewMemoryStore(2*entrySize(one), zerolog.Nop())

	// Pinning an existing partition lifts its limit too.
	early, err := s.Open(ctx, "static-v1")
	require.NoError(t, err)
	s.Pin("static-v1")

	for i := 0; i < 5; i++ {
		require.NoError(t, early.Put(ctx, fmt.Sprintf("k%d", i), one))
	}
	require.NoError(t, early.Put(ctx, "big", textResponse(http.StatusOK, strings.Repeat("y", 1024))))
	keys, err := early.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 6)

	// A pinned name stays pinned after the partition is recreated.
	_, err = s.DeleteFunc(ctx, func(string) bool { return true })
	require.NoError(t, err)
	again, err := s.Open(ctx, "static-v1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, again.Put(ctx, fmt.Sprintf("k%d", i), one))
	}
	keys, err = again.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 5)

	// Other partitions keep the budget.
	dyn, err := s.Open(ctx, "dynamic-v1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, dyn.Put(ctx, fmt.Sprintf("k%d", i), one))
	}
	keys, err = dyn.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

// entrySize mirrors how the memory store accounts for a response.
func entrySize(r offline0.Response) int64 {
	n := int64(len(r.Body)) + int64(len(r.StatusText))
	for k, vs := range r.Header {
		n += int64(len(k))
		for _, v := range vs {
			n += int64(len(v))
		}
	}
	return n
}

func TestLevelDBStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) offline0.Store {
		s, err := offline0.NewLevelDBStore(filepath.Join(t.TempDir(), "ldb"), zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestLevelDBStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ldb")

	s, err := offline0.NewLevelDBStore(dir, zerolog.Nop())
	require.NoError(t, err)
	p, err := s.Open(ctx, "static-v1")
	require.NoError(t, err)
	require.NoError(t, p.Put(ctx, "GET "+testOrigin+"/offline", textResponse(http.StatusOK, "offline page")))
	require.NoError(t, s.Close())

	s, err = offline0.NewLevelDBStore(dir, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"static-v1"}, names)

	p, err = s.Open(ctx, "static-v1")
	require.NoError(t, err)
	got, ok, err := p.Match(ctx, "GET "+testOrigin+"/offline")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "offline page", string(got.Body))
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := testConfig(t)
		s, err := offline0.OpenStore(ctx, cfg, zerolog.Nop())
		require.NoError(t, err)
		assert.IsType(t, &offline0.MemoryStore{}, s)
	})

	t.Run("leveldb", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage.Backend = "leveldb"
		cfg.Storage.LevelDB.Path = filepath.Join(t.TempDir(), "ldb")
		s, err := offline0.OpenStore(ctx, cfg, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		assert.IsType(t, &offline0.LevelDBStore{}, s)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage.Backend = "etcd"
		_, err := offline0.OpenStore(ctx, cfg, zerolog.Nop())
		assert.ErrorIs(t, err, offline0.ErrUnknownBackend)
	})
}

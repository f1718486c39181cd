package offline0

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	p:<partition>             -> creation time (unix seconds)
//	e:<partition>\x00<key>    -> gob(Response)
const (
	ldbPartPrefix  = "p:"
	ldbEntryPrefix = "e:"
	ldbSep         = "\x00"
)

// LevelDBStore persists partitions in a leveldb database, so cached content
// survives process restarts until its partition is garbage-collected.
type LevelDBStore struct {
	db     *leveldb.DB
	logger zerolog.Logger
}

func NewLevelDBStore(path string, logger zerolog.Logger) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	l := logger.With().Str("component", "LevelDBStore").Logger()
	l.Info().Str("path", path).Msg("leveldb store opened")
	return &LevelDBStore{db: db, logger: l}, nil
}

func (s *LevelDBStore) Open(_ context.Context, name string) (Partition, error) {
	pk := []byte(ldbPartPrefix + name)
	ok, err := s.db.Has(pk, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.db.Put(pk, []byte(strconv.FormatInt(time.Now().Unix(), 10)), nil); err != nil {
			return nil, err
		}
	}
	return &ldbPartition{db: s.db, name: name}, nil
}

func (s *LevelDBStore) Names(_ context.Context) ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(ldbPartPrefix)), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), []byte(ldbPartPrefix))))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *LevelDBStore) DeleteFunc(ctx context.Context, pred func(string) bool) ([]string, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, n := range names {
		if !pred(n) {
			continue
		}
		if err := s.deletePartition(n); err != nil {
			return deleted, err
		}
		deleted = append(deleted, n)
	}
	return deleted, nil
}

func (s *LevelDBStore) deletePartition(name string) error {
	batch := new(leveldb.Batch)
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		k := make([]byte, len(it.Key()))
		copy(k, it.Key())
		batch.Delete(k)
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	batch.Delete([]byte(ldbPartPrefix + name))
	if err := s.db.Write(batch, nil); err != nil {
		return err
	}
	s.logger.Debug().Str("partition", name).Int("entries", batch.Len()-1).Msg("partition deleted")
	return nil
}

func (s *LevelDBStore) Close() error { return s.db.Close() }

type ldbPartition struct {
	db   *leveldb.DB
	name string
}

func entryPrefix(partition string) []byte {
	return []byte(ldbEntryPrefix + partition + ldbSep)
}

func (p *ldbPartition) Name() string { return p.name }

func (p *ldbPartition) Match(_ context.Context, key string) (Response, bool, error) {
	b, err := p.db.Get(append(entryPrefix(p.name), key...), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Response{}, false, nil
	}
	if err != nil {
		return Response{}, false, err
	}
	var resp Response
	if err := decodeGob(b, &resp); err != nil {
		return Response{}, false, err
	}
	return resp, true, nil
}

func (p *ldbPartition) Put(_ context.Context, key string, resp Response) error {
	b, err := encodeGob(resp)
	if err != nil {
		return err
	}
	return p.db.Put(append(entryPrefix(p.name), key...), b, nil)
}

func (p *ldbPartition) Keys(_ context.Context) ([]string, error) {
	prefix := entryPrefix(p.name)
	it := p.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	return out, it.Error()
}

// ---- encoding ----

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func init() {
	gob.Register(http.Header{})
}

package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB 键空间：
//
//	g:<generation>                 代际标记（空值）
//	e:<generation>\x00<url>        gob 编码的 Record
const (
	levelGenPrefix   = "g:"
	levelEntryPrefix = "e:"
)

type levelStorage struct {
	db *leveldb.DB
}

type levelCache struct {
	db   *leveldb.DB
	name string
}

// NewLevelStorage 在 basePath/leveldb 打开 LevelDB。
func NewLevelStorage(basePath string) (Storage, error) {
	db, err := leveldb.OpenFile(filepath.Join(basePath, "leveldb"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}
	return &levelStorage{db: db}, nil
}

func generationKey(name string) []byte {
	return []byte(levelGenPrefix + name)
}

func entryPrefix(name string) []byte {
	return []byte(levelEntryPrefix + name + "\x00")
}

func entryKey(name, key string) []byte {
	return append(entryPrefix(name), Key(key)...)
}

func (s *levelStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := s.db.Put(generationKey(name), nil, nil); err != nil {
		return nil, err
	}
	return &levelCache{db: s.db, name: name}, nil
}

func (s *levelStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	return s.db.Has(generationKey(name), nil)
}

func (s *levelStorage) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	it := s.db.NewIterator(util.BytesPrefix([]byte(levelGenPrefix)), nil)
	defer it.Release()

	var names []string
	for it.Next() {
		names = append(names, string(bytes.TrimPrefix(it.Key(), []byte(levelGenPrefix))))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *levelStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	exists, err := s.db.Has(generationKey(name), nil)
	if err != nil || !exists {
		return false, err
	}

	batch := new(leveldb.Batch)
	batch.Delete(generationKey(name))
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		batch.Delete(bytes.Clone(it.Key()))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	if err := s.db.Write(batch, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (s *levelStorage) Close() error {
	return s.db.Close()
}

func (c *levelCache) Name() string {
	return c.name
}

func (c *levelCache) exists() error {
	ok, err := c.db.Has(generationKey(c.name), nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrGenerationMissing
	}
	return nil
}

func (c *levelCache) Match(ctx context.Context, key string) (*Record, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := c.exists(); err != nil {
		return nil, err
	}
	raw, err := c.db.Get(entryKey(c.name, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeGob(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &rec, nil
}

func (c *levelCache) Put(ctx context.Context, rec Record) error {
	return c.PutAll(ctx, []Record{rec})
}

func (c *levelCache) PutAll(ctx context.Context, recs []Record) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := c.exists(); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for _, rec := range recs {
		raw, err := encodeGob(rec)
		if err != nil {
			return err
		}
		batch.Put(entryKey(c.name, rec.URL), raw)
	}
	return c.db.Write(batch, nil)
}

func (c *levelCache) Delete(ctx context.Context, key string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	if err := c.exists(); err != nil {
		return false, err
	}
	k := entryKey(c.name, key)
	ok, err := c.db.Has(k, nil)
	if err != nil || !ok {
		return false, err
	}
	return true, c.db.Delete(k, nil)
}

func (c *levelCache) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := c.exists(); err != nil {
		return nil, err
	}
	prefix := entryPrefix(c.name)
	it := c.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	return keys, it.Error()
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// boltStorage 为每个代际分配一个 bucket，删除代际即 DeleteBucket。
type boltStorage struct {
	db *bolt.DB
}

type boltCache struct {
	db   *bolt.DB
	name []byte
}

// NewBoltStorage 在 basePath/shellcache.db 打开 bbolt 数据库。
func NewBoltStorage(basePath string) (Storage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	dbPath := filepath.Join(basePath, "shellcache.db")
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	return &boltStorage{db: db}, nil
}

func (s *boltStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &boltCache{db: s.db, name: []byte(name)}, nil
}

func (s *boltStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(name)) != nil
		return nil
	})
	return found, err
}

func (s *boltStorage) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}

func (s *boltStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.DeleteBucket([]byte(name))
	})
	if errors.Is(err, bolt.ErrBucketNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *boltStorage) Close() error {
	return s.db.Close()
}

func (c *boltCache) Name() string {
	return string(c.name)
}

func (c *boltCache) Match(ctx context.Context, key string) (*Record, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.name)
		if b == nil {
			return ErrGenerationMissing
		}
		if v := b.Get([]byte(Key(key))); v != nil {
			data = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &rec, nil
}

func (c *boltCache) Put(ctx context.Context, rec Record) error {
	return c.PutAll(ctx, []Record{rec})
}

func (c *boltCache) PutAll(ctx context.Context, recs []Record) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	encoded := make([][]byte, len(recs))
	for i, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		encoded[i] = data
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.name)
		if b == nil {
			return ErrGenerationMissing
		}
		for i, rec := range recs {
			if err := b.Put([]byte(rec.Key()), encoded[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *boltCache) Delete(ctx context.Context, key string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	deleted := false
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.name)
		if b == nil {
			return ErrGenerationMissing
		}
		k := []byte(Key(key))
		if b.Get(k) == nil {
			return nil
		}
		deleted = true
		return b.Delete(k)
	})
	return deleted, err
}

func (c *boltCache) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	var keys []string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.name)
		if b == nil {
			return ErrGenerationMissing
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

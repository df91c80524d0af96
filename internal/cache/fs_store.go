package cache

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// 磁盘布局：
//
//	<StoragePath>/<generation>/<sha1[:2]>/<sha1>.body   # 正文
//	<StoragePath>/<generation>/<sha1[:2]>/<sha1>.meta   # Record（不含正文）的 JSON
//
// 代际即目录；删除代际即 RemoveAll。
const (
	bodySuffix = ".body"
	metaSuffix = ".meta"
)

// NewFileStorage 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewFileStorage(basePath string) (Storage, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	return &fileStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStorage 通过 entryLock 避免同一条目并发写入，同时复用 basePath。
type fileStorage struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type fileCache struct {
	storage *fileStorage
	name    string
}

func (s *fileStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(s.basePath, name), 0o755); err != nil {
		return nil, err
	}
	return &fileCache{storage: s, name: name}, nil
}

func (s *fileStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, nil
	}
	info, err := os.Stat(filepath.Join(s.basePath, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (s *fileStorage) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStorage) Delete(ctx context.Context, name string) (bool, error) {
	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	// 改名后再删除：RemoveAll 期间 Has 已返回 false。
	trash, err := os.MkdirTemp(s.basePath, ".trash-*")
	if err != nil {
		return false, err
	}
	target := filepath.Join(trash, name)
	if err := os.Rename(filepath.Join(s.basePath, name), target); err != nil {
		os.RemoveAll(trash)
		return false, err
	}
	if err := os.RemoveAll(trash); err != nil {
		return true, err
	}
	return true, nil
}

func (s *fileStorage) Close() error {
	return nil
}

func (c *fileCache) Name() string {
	return c.name
}

func (c *fileCache) dir() string {
	return filepath.Join(c.storage.basePath, c.name)
}

func (c *fileCache) exists() error {
	info, err := os.Stat(c.dir())
	if err != nil || !info.IsDir() {
		return ErrGenerationMissing
	}
	return nil
}

// entryPath 返回条目正文与元数据文件的公共前缀（不含后缀）。
func (c *fileCache) entryPath(key string) string {
	sum := sha1.Sum([]byte(Key(key)))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(c.dir(), name[:2], name)
}

func (c *fileCache) Match(ctx context.Context, key string) (*Record, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := c.exists(); err != nil {
		return nil, err
	}

	base := c.entryPath(key)
	metaRaw, err := os.ReadFile(base + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(metaRaw, &rec); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	body, err := os.ReadFile(base + bodySuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.Body = body
	return &rec, nil
}

func (c *fileCache) Put(ctx context.Context, rec Record) error {
	if err := c.exists(); err != nil {
		return err
	}
	unlock := c.storage.lockEntry(c.name + "::" + rec.Key())
	defer unlock()

	base := c.entryPath(rec.URL)
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return err
	}

	body := rec.Body
	rec.Body = nil
	meta, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	// 正文先落盘，元数据最后写入；Match 以元数据为准，不会读到缺正文的条目。
	if err := writeAtomic(ctx, base+bodySuffix, bytes.NewReader(body)); err != nil {
		return err
	}
	return writeAtomic(ctx, base+metaSuffix, bytes.NewReader(meta))
}

func (c *fileCache) PutAll(ctx context.Context, recs []Record) error {
	for _, rec := range recs {
		if err := c.Put(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (c *fileCache) Delete(ctx context.Context, key string) (bool, error) {
	if err := c.exists(); err != nil {
		return false, err
	}
	unlock := c.storage.lockEntry(c.name + "::" + Key(key))
	defer unlock()

	base := c.entryPath(key)
	if err := os.Remove(base + metaSuffix); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(base + bodySuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true, err
	}
	return true, nil
}

func (c *fileCache) Keys(ctx context.Context) ([]string, error) {
	if err := c.exists(); err != nil {
		return nil, err
	}
	var keys []string
	err := filepath.WalkDir(c.dir(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, metaSuffix) {
			return nil
		}
		if err := checkContext(ctx); err != nil {
			return err
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil
		}
		keys = append(keys, rec.Key())
		return nil
	})
	sort.Strings(keys)
	return keys, err
}

func (s *fileStorage) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// writeAtomic 通过临时文件 + rename 写入 target，失败时清理临时文件。
func writeAtomic(ctx context.Context, target string, body io.Reader) error {
	tempFile, err := os.CreateTemp(filepath.Dir(target), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// NewStore 以 basePath 为根目录构建磁盘缓存；目录必须已存在且可写。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, ErrNoDirectory
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}
	if err := checkWritableDir(abs); err != nil {
		return nil, err
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 key 的并发提交互相覆盖，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Dir() string {
	return s.basePath
}

func (s *fileStore) DataPath(key string) string {
	return filepath.Join(s.basePath, key)
}

func (s *fileStore) Lookup(key string) (*Entry, *DataInfo, error) {
	entry, err := s.stat(key)
	if err != nil {
		return nil, nil, err
	}
	info, err := s.ReadInfo(key)
	if err != nil {
		return nil, nil, err
	}
	return entry, info, nil
}

func (s *fileStore) Open(key string) (*ReadResult, error) {
	entry, err := s.stat(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(entry.FilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &ReadResult{
		Entry:  *entry,
		Reader: f,
	}, nil
}

func (s *fileStore) CreateTemp(key string) (*os.File, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	return os.CreateTemp(s.basePath, ".cache-*")
}

func (s *fileStore) Commit(key, tempPath string, info *DataInfo) (*Entry, error) {
	unlock := s.lockEntry(key)
	defer unlock()

	if err := validKey(key); err != nil {
		s.Discard(tempPath)
		return nil, err
	}

	filePath := s.DataPath(key)
	if err := os.Rename(tempPath, filePath); err != nil {
		s.Discard(tempPath)
		return nil, err
	}
	if err := s.writeInfo(filePath, info); err != nil {
		return nil, err
	}

	return s.stat(key)
}

func (s *fileStore) Discard(tempPath string) {
	if tempPath == "" {
		return
	}
	_ = os.Remove(tempPath)
}

func (s *fileStore) ReadInfo(key string) (*DataInfo, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	infoPath := s.DataPath(key) + InfoSuffix

	raw, err := os.ReadFile(infoPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var info DataInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode %s: %w", infoPath, err)
	}
	return &info, nil
}

func (s *fileStore) Remove(key string) error {
	unlock := s.lockEntry(key)
	defer unlock()

	if err := validKey(key); err != nil {
		return err
	}
	filePath := s.DataPath(key)
	for _, p := range []string{filePath + InfoSuffix, filePath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *fileStore) Clear() error {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.basePath, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// writeInfo 以临时文件 + rename 的方式落盘 dataInfo，避免读到半截 JSON。
func (s *fileStore) writeInfo(filePath string, info *DataInfo) error {
	if info == nil {
		return errors.New("data info required")
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(s.basePath, ".info-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(raw)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath+InfoSuffix); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) stat(key string) (*Entry, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	filePath := s.DataPath(key)

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() || info.Size() == 0 {
		return nil, ErrNotFound
	}

	return &Entry{
		Key:       key,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func (s *fileStore) lockEntry(key string) func() {
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

// validKey 拒绝会逃出缓存目录的 key；KeyForURL 的输出天然满足该约束。
func validKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("invalid cache key %q", key)
	}
	return nil
}

// checkWritableDir 确认路径是可写目录，通过实际创建探测文件判定写权限。
func checkWritableDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDirectory, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidDirectory, dir)
	}

	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDirectory, dir, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}

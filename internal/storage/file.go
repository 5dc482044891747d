package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"

	"gisauth/pkg/logging"
)

const (
	// FileName is the name of the JSON document holding all keys.
	FileName = "store.json"

	// LockTimeout is the maximum time to wait for the cross-process lock.
	// If exceeded, operations proceed without locking to avoid CLI hangs.
	LockTimeout = 100 * time.Millisecond
)

// FileStore keeps all keys in one JSON file. Writes are atomic and guarded
// by a lock file so several CLI processes can share a directory.
//
// SECURITY: the file holds tokens. It is written with 0600 permissions inside
// a 0700 directory, and values are never logged.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the full path to the backing file.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, FileName)
}

func (s *FileStore) lockPath() string {
	return filepath.Join(s.dir, ".lock")
}

// acquireLock returns nil without error when the lock could not be taken in
// time; callers then proceed unlocked.
func (s *FileStore) acquireLock() (*flock.Flock, error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, err
	}

	fl := flock.New(s.lockPath())

	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			logging.Warn("Storage", "Lock %s busy, continuing without it", s.lockPath())
			return nil, nil
		}
		return nil, err
	}
	if !locked {
		return nil, nil
	}
	return fl, nil
}

func release(fl *flock.Flock) {
	if fl != nil {
		_ = fl.Unlock()
	}
}

func (s *FileStore) loadUnsafe() (map[string]string, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}

	all := make(map[string]string)
	if err := json.Unmarshal(data, &all); err != nil {
		logging.Warn("Storage", "Ignoring corrupted store file %s: %v", s.Path(), err)
		return make(map[string]string), nil
	}
	return all, nil
}

func (s *FileStore) saveUnsafe(all map[string]string) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(s.dir, "store-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	destPath := s.Path()
	if err := os.Rename(tmpPath, destPath); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(destPath)
			return os.Rename(tmpPath, destPath)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Get implements Store.
func (s *FileStore) Get(key string) (string, bool, error) {
	fl, err := s.acquireLock()
	if err != nil {
		return "", false, err
	}
	defer release(fl)

	all, err := s.loadUnsafe()
	if err != nil {
		return "", false, err
	}
	v, ok := all[key]
	return v, ok, nil
}

// Set implements Store.
func (s *FileStore) Set(key, value string) error {
	fl, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer release(fl)

	all, err := s.loadUnsafe()
	if err != nil {
		return err
	}
	all[key] = value
	return s.saveUnsafe(all)
}

// Remove implements Store.
func (s *FileStore) Remove(key string) error {
	fl, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer release(fl)

	all, err := s.loadUnsafe()
	if err != nil {
		return err
	}
	if _, ok := all[key]; !ok {
		return nil
	}
	delete(all, key)
	return s.saveUnsafe(all)
}

// Watch starts a Watcher that calls onChange when another process rewrites
// the backing file.
func (s *FileStore) Watch(onChange func()) (*Watcher, error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, err
	}
	w := NewWatcher(WatcherConfig{
		Dir:      s.dir,
		FileName: FileName,
		OnChange: onChange,
	})
	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, nil
}

package blob

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/legalcrawl/engine/pkg/failure"
	"github.com/legalcrawl/engine/pkg/fileutil"
	"github.com/legalcrawl/engine/pkg/retry"
	"github.com/legalcrawl/engine/pkg/timeutil"
)

// writeRetryParam is the store retry policy: up to 3 attempts, base 200ms,
// factor 2. Jitter is a uniform 0-80ms added to each delay; it never
// shortens a delay and is not proportional to it.
func writeRetryParam(randomSeed int64) retry.RetryParam {
	return retry.NewRetryParam(
		200*time.Millisecond,
		80*time.Millisecond,
		randomSeed,
		3,
		timeutil.NewBackoffParam(200*time.Millisecond, 2.0, 2*time.Second),
	)
}

// LocalStore is a filesystem-backed Store: it lays out immutable,
// content-addressed objects under baseDir/<key>.
type LocalStore struct {
	baseDir    string
	randomSeed int64

	mu      sync.Mutex
	existsCache map[string]struct{}
}

// NewLocalStore constructs a Store rooted at baseDir. baseDir is created
// lazily on first write.
func NewLocalStore(baseDir string) *LocalStore {
	return &LocalStore{
		baseDir:     baseDir,
		existsCache: make(map[string]struct{}),
	}
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}

// Put writes data under key unless an object already occupies it, per
// §4.5's content-addressed dedup: "if a key already exists, skip
// re-upload". Failures are retried per writeRetryParam; exhaustion is
// reported to the caller, who marks the page failed without failing the
// job (§4.5, §7 StorageError).
func (s *LocalStore) Put(key string, data []byte, contentType string) (PutOutcome, failure.ClassifiedError) {
	s.mu.Lock()
	_, cached := s.existsCache[key]
	s.mu.Unlock()
	if cached {
		return PutExists, nil
	}

	if _, exists, err := s.Head(key); err != nil {
		return "", err
	} else if exists {
		return PutExists, nil
	}

	result := retry.Retry(writeRetryParam(time.Now().UnixNano()), func() ([]byte, failure.ClassifiedError) {
		return nil, s.writeOnce(key, data)
	})
	if !result.Succeeded() {
		return "", &BlobError{
			Message:   result.Err().Error(),
			Retryable: false,
			Cause:     ErrCauseWriteFailure,
			Key:       key,
		}
	}

	s.mu.Lock()
	s.existsCache[key] = struct{}{}
	s.mu.Unlock()
	return PutOK, nil
}

func (s *LocalStore) writeOnce(key string, data []byte) failure.ClassifiedError {
	fullPath := s.path(key)
	if err := fileutil.EnsureDir(filepath.Dir(fullPath)); err != nil {
		return &BlobError{Message: err.Error(), Retryable: true, Cause: ErrCausePathError, Key: key}
	}

	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		retryable := errors.Is(err, syscall.ENOSPC)
		return &BlobError{Message: err.Error(), Retryable: retryable, Cause: ErrCauseWriteFailure, Key: key}
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		return &BlobError{Message: err.Error(), Retryable: true, Cause: ErrCauseWriteFailure, Key: key}
	}
	return nil
}

// Get reads back a previously written object.
func (s *LocalStore) Get(key string) ([]byte, failure.ClassifiedError) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		cause := ErrCauseReadFailure
		if os.IsNotExist(err) {
			cause = ErrCauseNotFound
		}
		return nil, &BlobError{Message: err.Error(), Retryable: false, Cause: cause, Key: key}
	}
	return data, nil
}

// Head reports whether key exists without reading its contents.
func (s *LocalStore) Head(key string) (Metadata, bool, failure.ClassifiedError) {
	info, err := os.Stat(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, false, nil
		}
		return Metadata{}, false, &BlobError{Message: err.Error(), Retryable: false, Cause: ErrCauseReadFailure, Key: key}
	}
	return Metadata{Key: key, Size: info.Size(), WrittenAt: info.ModTime()}, true, nil
}

var _ Store = (*LocalStore)(nil)

package resources

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// ErrStoreDisabled is returned by a store with no backing location.
var ErrStoreDisabled = errors.New("tokenizer store disabled")

// Store provides local backing directories for resolved tokenizer artifacts.
// The resolver treats it as an injected collaborator, so callers can swap
// the on-disk cache for a throwaway location or a test double.
type Store interface {
	// Dir returns a writable directory holding the artifacts of the given
	// model id, creating it when needed.
	Dir(modelId string) (string, error)
	// Evict removes the model's directory and everything in it.
	Evict(modelId string) error
}

// DirStore is a store rooted at a directory. Model ids are hashed into
// sharded subdirectories so arbitrary identifier strings never meet the
// filesystem.
type DirStore string

func (s DirStore) keyPath(modelId string) string {
	h := fnv.New64a()
	h.Write([]byte(modelId))
	k := strconv.FormatUint(h.Sum64(), 16)
	return filepath.Join(string(s), k[:1], k)
}

func (s DirStore) Dir(modelId string) (string, error) {
	if s == "" {
		return "", ErrStoreDisabled
	}
	dir := s.keyPath(modelId)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating store dir for %s", modelId)
	}
	return dir, nil
}

func (s DirStore) Evict(modelId string) error {
	if s == "" {
		return ErrStoreDisabled
	}
	return os.RemoveAll(s.keyPath(modelId))
}

// DefaultStoreRoot places the store under the user cache dir, falling back
// to the system temp dir.
func DefaultStoreRoot() string {
	if base, err := os.UserCacheDir(); err == nil {
		return filepath.Join(base, "retok")
	}
	return filepath.Join(os.TempDir(), "retok")
}

// TempStore backs every model with a directory under a single MkdirTemp
// root, removed by Close. Used by tests and no-cache runs.
type TempStore struct {
	mu   sync.Mutex
	root string
}

func NewTempStore() *TempStore {
	return &TempStore{}
}

func (s *TempStore) Dir(modelId string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == "" {
		root, err := os.MkdirTemp("", "retok-store-")
		if err != nil {
			return "", err
		}
		s.root = root
	}
	dir := DirStore(s.root).keyPath(modelId)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (s *TempStore) Evict(modelId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == "" {
		return nil
	}
	return os.RemoveAll(DirStore(s.root).keyPath(modelId))
}

func (s *TempStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == "" {
		return nil
	}
	root := s.root
	s.root = ""
	return os.RemoveAll(root)
}

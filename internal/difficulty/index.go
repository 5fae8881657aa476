package difficulty

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"subwatch/internal/storage"
)

// ErrCorrupt means the index file exists but is not a JSON object of strings.
var ErrCorrupt = errors.New("difficulty index corrupt")

// Index maps problem numbers to difficulty labels.
type Index map[string]string

// Label returns the problem's label or Unknown.
func (ix Index) Label(problem string) string {
	if l, ok := ix[problem]; ok && l != "" {
		return l
	}
	return Unknown
}

// Merge copies every pair of other into ix and returns how many were new.
func (ix Index) Merge(other map[string]string) int {
	added := 0
	for k, v := range other {
		if k == "" {
			continue
		}
		if _, ok := ix[k]; !ok {
			added++
		}
		ix[k] = v
	}
	return added
}

// Load reads an index file. A missing file is an empty index.
func Load(path string) (Index, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Index{}, nil
	}
	if err != nil {
		return Index{}, fmt.Errorf("read difficulty index: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return Index{}, nil
	}
	var ix Index
	if err := json.Unmarshal(b, &ix); err != nil {
		return Index{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if ix == nil {
		ix = Index{}
	}
	return ix, nil
}

// Save writes ix atomically.
func Save(path string, ix Index) error {
	b, err := json.MarshalIndent(ix, "", "    ")
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(path, append(b, '\n'), 0o644)
}

// FileSource serves the index file, re-reading it only when its size or
// modification time changes. Safe for concurrent use.
type FileSource struct {
	path string

	mu    sync.Mutex
	ix    Index
	mtime time.Time
	size  int64
}

func NewFileSource(path string) *FileSource { return &FileSource{path: path} }

func (s *FileSource) Path() string { return s.path }

// Index returns the current index. On a read or decode error the last good
// index (possibly empty) is returned with the error.
func (s *FileSource) Index() (Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fi, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.ix, s.mtime, s.size = Index{}, time.Time{}, 0
		return s.ix, nil
	}
	if err != nil {
		return s.current(), err
	}
	if s.ix != nil && fi.ModTime().Equal(s.mtime) && fi.Size() == s.size {
		return s.ix, nil
	}
	ix, err := Load(s.path)
	if err != nil {
		return s.current(), err
	}
	s.ix, s.mtime, s.size = ix, fi.ModTime(), fi.Size()
	return ix, nil
}

func (s *FileSource) current() Index {
	if s.ix == nil {
		return Index{}
	}
	return s.ix
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"subwatch/internal/record"
	logx "subwatch/pkg/logx"
)

// fileStore keeps the snapshot as one JSON document.
//
// Files:
//   - <path>                  (snapshot, replaced atomically)
//   - <prefix>.cycles.jsonl   (append-only cycle journal)
//
// A snapshot that fails to decode is renamed to <path>.corrupt-<unix> so the
// next Save cannot overwrite the only copy.
type fileStore struct {
	log  logx.Logger
	path string

	mu        sync.Mutex
	cycleFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for json driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	cf, err := os.OpenFile(filepath.Join(dir, base+".cycles.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, cycleFile: cf}, nil
}

func (s *fileStore) Load(ctx context.Context) (record.Snapshot, error) {
	_ = ctx
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return record.Snapshot{}, nil
	}
	if err != nil {
		return record.Snapshot{}, fmt.Errorf("read store: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return record.Snapshot{}, nil
	}

	var snap record.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		backup := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
		if rerr := os.Rename(s.path, backup); rerr != nil {
			s.log.Error("store backup failed", logx.String("path", s.path), logx.Err(rerr))
			return record.Snapshot{}, fmt.Errorf("%w: %w: %s: %w", ErrCorrupt, ErrBackupFailed, s.path, rerr)
		}
		s.log.Warn("corrupt store moved aside", logx.String("path", s.path), logx.String("backup", backup))
		return record.Snapshot{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, s.path, err)
	}
	if snap == nil {
		snap = record.Snapshot{}
	}
	return snap, nil
}

func (s *fileStore) Save(ctx context.Context, snap record.Snapshot) error {
	_ = ctx
	if snap == nil {
		snap = record.Snapshot{}
	}
	b, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	if err := WriteFileAtomic(s.path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}

func (s *fileStore) AppendCycle(ctx context.Context, e CycleEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycleFile == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.cycleFile).Encode(e)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycleFile == nil {
		return nil
	}
	err := s.cycleFile.Close()
	s.cycleFile = nil
	return err
}

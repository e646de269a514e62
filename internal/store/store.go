// Package store files receipt renditions under a deterministic year/month
// layout and hands out paths relative to the store root.
package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"

	"github.com/expenseworks/receipts-index/internal/common"
)

// FileStore is the storage seam for receipt renditions. Paths returned and
// accepted are always relative to the store root, with forward slashes, so
// they stay portable across machines and backends.
type FileStore interface {
	Save(txDate time.Time, vendor string, amount decimal.Decimal, data []byte) (string, error)
	AbsPath(relPath string) string
	Exists(relPath string) (bool, error)
	Open(relPath string) (io.ReadCloser, error)
}

// maxCollisionSuffix bounds the suffix probe loop so a pathological store
// state cannot spin forever.
const maxCollisionSuffix = 1000

type localStore struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger
}

// NewLocalStore creates a FileStore rooted at root on the given filesystem.
func NewLocalStore(fs afero.Fs, root string, logger *slog.Logger) (FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if root == "" {
		return nil, common.NewAppError("STORE_ERROR", "store root is required", common.ErrInvalidInput)
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, common.WrapError(err, "create store root")
	}
	return &localStore{fs: fs, root: root, logger: logger}, nil
}

// Save writes data under {YYYY}/{MM}/{YYYY-MM-DD}__{slug}__{amount}.pdf and
// returns the relative path. On collision the name gets an incrementing
// suffix (-2, -3, ...) before the extension.
func (s *localStore) Save(txDate time.Time, vendor string, amount decimal.Decimal, data []byte) (string, error) {
	dir := PartitionDir(txDate)
	if err := s.fs.MkdirAll(filepath.Join(s.root, filepath.FromSlash(dir)), 0o755); err != nil {
		return "", common.WrapError(err, "create partition directory")
	}

	for n := 1; n <= maxCollisionSuffix; n++ {
		rel := path.Join(dir, Filename(txDate, vendor, amount, n))
		abs := s.AbsPath(rel)

		// Reserve the final name first so a concurrent writer observing
		// "already exists" moves on to the next suffix instead of
		// clobbering this one.
		f, err := s.fs.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return "", common.WrapError(err, "reserve receipt path")
		}
		if err := f.Close(); err != nil {
			return "", common.WrapError(err, "reserve receipt path")
		}

		if err := s.writeAtomic(abs, data); err != nil {
			return "", err
		}
		s.logger.Debug("store.save.ok", "path", rel, "bytes", len(data))
		return rel, nil
	}

	return "", common.NewAppError("STORE_ERROR",
		fmt.Sprintf("no free path for %s", Filename(txDate, vendor, amount, 1)), common.ErrInternal)
}

// writeAtomic writes to a hidden temp file in the target directory, syncs it
// and renames it over the reserved path, so readers never see partial bytes.
func (s *localStore) writeAtomic(abs string, data []byte) error {
	dir, base := filepath.Split(abs)
	tmp := filepath.Join(dir, "."+base+".tmp")

	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return common.WrapError(err, "create temp file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = s.fs.Remove(tmp)
		return common.WrapError(err, "write temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = s.fs.Remove(tmp)
		return common.WrapError(err, "sync temp file")
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return common.WrapError(err, "close temp file")
	}
	if err := s.fs.Rename(tmp, abs); err != nil {
		_ = s.fs.Remove(tmp)
		return common.WrapError(err, "rename temp file")
	}
	return nil
}

// AbsPath resolves a relative store path against the store root.
func (s *localStore) AbsPath(relPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(relPath))
}

func (s *localStore) Exists(relPath string) (bool, error) {
	return afero.Exists(s.fs, s.AbsPath(relPath))
}

func (s *localStore) Open(relPath string) (io.ReadCloser, error) {
	f, err := s.fs.Open(s.AbsPath(relPath))
	if err != nil {
		return nil, common.WrapError(err, "open receipt file")
	}
	return f, nil
}

package source

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/expenseworks/receipts-index/internal/common"
	"github.com/expenseworks/receipts-index/internal/entity"
)

// MaildirAdapter reads .eml files from a flat directory. It exists for
// offline runs and as the second source variant behind the Adapter seam.
type MaildirAdapter struct {
	fs     afero.Fs
	dir    string
	logger *slog.Logger
}

func NewMaildirAdapter(fs afero.Fs, dir string, logger *slog.Logger) *MaildirAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MaildirAdapter{fs: fs, dir: dir, logger: logger}
}

func (a *MaildirAdapter) Type() string { return TypeMaildir }

// FetchUnprocessed lists the directory once; messages are parsed lazily by
// the cursor. A missing or unreadable directory is a fatal source error.
func (a *MaildirAdapter) FetchUnprocessed(_ context.Context, processed map[string]struct{}) (Cursor, error) {
	ok, err := afero.DirExists(a.fs, a.dir)
	if err != nil {
		return nil, common.WrapError(err, "stat maildir")
	}
	if !ok {
		return nil, common.NewAppError("SOURCE_ERROR", "maildir does not exist: "+a.dir, common.ErrInvalidInput)
	}

	infos, err := afero.ReadDir(a.fs, a.dir)
	if err != nil {
		return nil, common.WrapError(err, "list maildir")
	}

	var files []string
	for _, info := range infos {
		if info.IsDir() || isHidden(info.Name()) {
			continue
		}
		if !strings.EqualFold(filepath.Ext(info.Name()), ".eml") {
			continue
		}
		files = append(files, info.Name())
	}
	a.logger.Info("source.maildir.listed", "dir", a.dir, "messages", len(files))

	return &maildirCursor{
		fs:        a.fs,
		dir:       a.dir,
		files:     files,
		processed: processed,
		logger:    a.logger,
	}, nil
}

type maildirCursor struct {
	fs        afero.Fs
	dir       string
	files     []string
	next      int
	skipped   int
	processed map[string]struct{}
	logger    *slog.Logger
}

func (c *maildirCursor) Next(ctx context.Context) (*entity.RawMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.next >= len(c.files) {
			return nil, ErrDone
		}
		name := c.files[c.next]
		c.next++

		f, err := c.fs.Open(filepath.Join(c.dir, name))
		if err != nil {
			return nil, &ParseError{SourceID: name, Cause: err}
		}
		msg, err := ParseMessage(f)
		f.Close()
		if err != nil {
			return nil, &ParseError{SourceID: name, Cause: err}
		}
		if _, ok := c.processed[msg.SourceID]; ok {
			c.skipped++
			c.logger.Debug("source.maildir.skip_processed", "source_id", msg.SourceID, "file", name)
			continue
		}
		return msg, nil
	}
}

func (c *maildirCursor) Skipped() int { return c.skipped }

func (c *maildirCursor) Close() error { return nil }

// isHidden reports whether a file name is hidden (starts with '.').
func isHidden(name string) bool {
	return strings.HasPrefix(filepath.Base(name), ".")
}

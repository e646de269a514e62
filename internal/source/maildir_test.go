package source

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMaildir(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("mail/sub", 0o755))

	write := func(name, content string) {
		require.NoError(t, afero.WriteFile(fs, "mail/"+name, []byte(content), 0o644))
	}
	write("a-order.eml", plainTextEmail())
	write("b-trip.eml", multipartEmail())
	write("broken.eml", "this is not a mail header\r\n\r\nbody\r\n")
	write(".hidden.eml", plainTextEmail())
	write("notes.txt", "not an email")

	return fs
}

func TestMaildirYieldsMessagesInNameOrder(t *testing.T) {
	adapter := NewMaildirAdapter(newTestMaildir(t), "mail", discardLogger())
	ctx := context.Background()

	cursor, err := adapter.FetchUnprocessed(ctx, nil)
	require.NoError(t, err)
	defer cursor.Close()

	first, err := cursor.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "order-123@amazon.example", first.SourceID)

	second, err := cursor.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "trip-77@uber.example", second.SourceID)

	_, err = cursor.Next(ctx)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "broken.eml", perr.SourceID)

	_, err = cursor.Next(ctx)
	assert.ErrorIs(t, err, ErrDone)
}

func TestMaildirSkipsProcessed(t *testing.T) {
	adapter := NewMaildirAdapter(newTestMaildir(t), "mail", discardLogger())
	ctx := context.Background()
	processed := map[string]struct{}{"order-123@amazon.example": {}}

	cursor, err := adapter.FetchUnprocessed(ctx, processed)
	require.NoError(t, err)
	defer cursor.Close()

	assert.Zero(t, cursor.Skipped())
	first, err := cursor.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "trip-77@uber.example", first.SourceID)
	assert.Equal(t, 1, cursor.Skipped())
}

func TestMaildirMissingDir(t *testing.T) {
	adapter := NewMaildirAdapter(afero.NewMemMapFs(), "nowhere", discardLogger())

	_, err := adapter.FetchUnprocessed(context.Background(), nil)
	assert.Error(t, err)
}

func TestMaildirCancelledContext(t *testing.T) {
	adapter := NewMaildirAdapter(newTestMaildir(t), "mail", discardLogger())

	cursor, err := adapter.FetchUnprocessed(context.Background(), nil)
	require.NoError(t, err)
	defer cursor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = cursor.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMaildirType(t *testing.T) {
	adapter := NewMaildirAdapter(afero.NewMemMapFs(), "mail", discardLogger())
	assert.Equal(t, TypeMaildir, adapter.Type())
}

package store

import (
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDate() time.Time {
	return time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
}

func newTestStore(t *testing.T) (FileStore, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s, err := NewLocalStore(fs, "receipts", nil)
	require.NoError(t, err)
	return s, fs
}

func TestVendorSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Amazon", "amazon"},
		{"Amazon Fresh", "amazon-fresh"},
		{"COSTCO", "costco"},
		{"Uber *Eats*", "uber-eats"},
		{"Café Déjà Vu", "cafe-deja-vu"},
		{"---", "receipt"},
		{"", "receipt"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, VendorSlug(tt.in), "input %q", tt.in)
	}
}

func TestVendorSlugCapsLength(t *testing.T) {
	long := strings.Repeat("very-long-vendor ", 10)
	s := VendorSlug(long)
	assert.LessOrEqual(t, len(s), 50)
	assert.False(t, strings.HasSuffix(s, "-"))
	assert.Regexp(t, `^[a-z0-9-]+$`, s)
}

func TestPartitionDir(t *testing.T) {
	assert.Equal(t, "2026/08", PartitionDir(testDate()))
	assert.Equal(t, "2025/03", PartitionDir(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func TestFilename(t *testing.T) {
	amount := decimal.RequireFromString("42.99")
	assert.Equal(t, "2026-08-10__amazon__42.99.pdf", Filename(testDate(), "Amazon", amount, 1))
	assert.Equal(t, "2026-08-10__amazon__42.99-2.pdf", Filename(testDate(), "Amazon", amount, 2))
	assert.Equal(t, "2026-08-10__amazon__7.00.pdf", Filename(testDate(), "Amazon", decimal.NewFromInt(7), 1))
}

func TestSaveRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	data := []byte("%PDF-1.4 fake receipt")

	rel, err := s.Save(testDate(), "Amazon", decimal.RequireFromString("42.99"), data)
	require.NoError(t, err)
	assert.Equal(t, "2026/08/2026-08-10__amazon__42.99.pdf", rel)
	assert.False(t, filepath.IsAbs(rel))

	ok, err := s.Exists(rel)
	require.NoError(t, err)
	assert.True(t, ok)

	f, err := s.Open(rel)
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSaveCollisionSuffix(t *testing.T) {
	s, _ := newTestStore(t)
	amount := decimal.RequireFromString("12.00")

	first, err := s.Save(testDate(), "Costco", amount, []byte("one"))
	require.NoError(t, err)
	second, err := s.Save(testDate(), "Costco", amount, []byte("two"))
	require.NoError(t, err)
	third, err := s.Save(testDate(), "Costco", amount, []byte("three"))
	require.NoError(t, err)

	assert.Equal(t, "2026/08/2026-08-10__costco__12.00.pdf", first)
	assert.Equal(t, "2026/08/2026-08-10__costco__12.00-2.pdf", second)
	assert.Equal(t, "2026/08/2026-08-10__costco__12.00-3.pdf", third)

	for rel, want := range map[string]string{first: "one", second: "two", third: "three"} {
		f, err := s.Open(rel)
		require.NoError(t, err)
		got, err := io.ReadAll(f)
		require.NoError(t, err)
		f.Close()
		assert.Equal(t, want, string(got))
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	s, fs := newTestStore(t)

	_, err := s.Save(testDate(), "Amazon", decimal.RequireFromString("9.99"), []byte("pdf"))
	require.NoError(t, err)

	infos, err := afero.ReadDir(fs, filepath.Join("receipts", "2026", "08"))
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.False(t, strings.HasPrefix(infos[0].Name(), "."))
	assert.False(t, strings.HasSuffix(infos[0].Name(), ".tmp"))
}

func TestSaveAmountAlwaysTwoDecimals(t *testing.T) {
	s, _ := newTestStore(t)

	rel, err := s.Save(testDate(), "Deli", decimal.RequireFromString("5"), []byte("pdf"))
	require.NoError(t, err)
	assert.Equal(t, "2026/08/2026-08-10__deli__5.00.pdf", rel)
}

func TestNewLocalStoreRequiresRoot(t *testing.T) {
	_, err := NewLocalStore(afero.NewMemMapFs(), "", nil)
	assert.Error(t, err)
}

package store

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
)

const maxSlugLength = 50

// VendorSlug normalizes a vendor name for use in file names: lowercase,
// alphanumeric and hyphen only, at most 50 characters. Falls back to
// "receipt" when nothing usable remains.
func VendorSlug(vendor string) string {
	s := slug.Make(vendor)
	if len(s) > maxSlugLength {
		s = strings.Trim(s[:maxSlugLength], "-")
	}
	if s == "" {
		return "receipt"
	}
	return s
}

// PartitionDir returns the year/month directory a receipt is filed under.
func PartitionDir(txDate time.Time) string {
	return path.Join(fmt.Sprintf("%04d", txDate.Year()), fmt.Sprintf("%02d", int(txDate.Month())))
}

// Filename builds the canonical file name for a receipt rendition. The
// numbered form resolves collisions; n <= 1 yields the base name.
func Filename(txDate time.Time, vendor string, amount decimal.Decimal, n int) string {
	base := fmt.Sprintf("%s__%s__%s", txDate.Format("2006-01-02"), VendorSlug(vendor), amount.StringFixed(2))
	if n > 1 {
		return fmt.Sprintf("%s-%d.pdf", base, n)
	}
	return base + ".pdf"
}

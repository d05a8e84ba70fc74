// Package blob stores invoice images and generated documents in an
// object store (S3-compatible or GCS).
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paperledger/paperledger/pkg/retry"
)

// ErrNotFound is returned when the requested object does not exist.
// During the eventual-consistency window after a write, a get may see
// this transiently.
var ErrNotFound = errors.New("blob: object not found")

// Store is the object-store surface the pipeline depends on.
type Store interface {
	// Put writes data under key with the given content type.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get reads one object. Returns ErrNotFound when absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes one object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// List returns the keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// PublicURL returns the externally reachable URL for key.
	PublicURL(key string) string
}

// EventualPolicy governs how long GetEventual waits out the store's
// consistency window.
var EventualPolicy = retry.Policy{
	MaxAttempts: 5,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    8 * time.Second,
	MaxJitter:   200 * time.Millisecond,
}

// GetEventual reads an object, retrying on ErrNotFound with exponential
// back-off for up to five attempts. Writes followed by immediate reads
// can race the store's consistency window; this absorbs that window.
func GetEventual(ctx context.Context, s Store, key string) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, "blob.get:"+key, EventualPolicy, func(ctx context.Context) error {
		var getErr error
		data, getErr = s.Get(ctx, key)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Categories for object keys. Sales receipts, purchase (vendor)
// invoices and mapping sheets live under separate prefixes.
const (
	CategorySales    = "sales"
	CategoryPurchase = "purchases"
	CategoryMapping  = "mappings"
)

// ObjectKey builds the canonical key {tenant}/{category}/{timestamp}_{name}.
// The timestamp is the caller's wall clock formatted YYYYMMDD_HHMMSS so
// keys sort chronologically within a prefix.
func ObjectKey(tenant, category, filename string, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s_%s", tenant, category, now.Format("20060102_150405"), SanitizeFilename(filename))
}

// MappingObjectKey builds {tenant}/mappings/{timestamp}_{hash8}.{ext}.
// Mapping sheets are keyed by content hash rather than filename; phone
// camera names carry nothing worth keeping.
func MappingObjectKey(tenant, contentHash, ext string, now time.Time) string {
	if len(contentHash) > 8 {
		contentHash = contentHash[:8]
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s/%s/%s_%s.%s", tenant, CategoryMapping, now.Format("20060102_150405"), contentHash, ext)
}

// SanitizeFilename strips path separators and characters that are
// unsafe in object keys, keeping the name readable.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "upload"
	}
	// Keep only the basename.
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, "._-") == "" {
		return "upload"
	}
	return out
}

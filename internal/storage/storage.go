// Package storage abstracts the blob store holding source photos and
// generated results. The production implementation is S3-compatible object
// storage; FileStore backs development and tests.
package storage

import "context"

// Store is the blob storage contract used by the submitter, the worker and
// the input image resolver.
type Store interface {
	// Upload persists data under key and returns the canonical storage key.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Download fetches an object by key, returning its bytes and content type.
	Download(ctx context.Context, key string) ([]byte, string, error)
	// PublicURL returns the publicly fetchable URL for a stored object.
	PublicURL(key string) string
	// ParseKey extracts the object key from a URL in this store's shape,
	// so a public URL can be re-fetched through the authenticated API when
	// the public path fails.
	ParseKey(rawURL string) (string, error)
}

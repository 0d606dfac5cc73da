// Package blob abstracts the object store the pipeline reads crawled
// content from and archives requests, responses, and exports to.
package blob

import "context"

// Object describes one stored blob.
type Object struct {
	Key  string
	Size int64
}

// Store is the pipeline's view of an object store.
type Store interface {
	// List returns descriptors for every object under prefix.
	List(ctx context.Context, prefix string) ([]Object, error)
	// Get fetches an object's bytes.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes an object, overwriting any existing one.
	Put(ctx context.Context, key string, data []byte) error
}

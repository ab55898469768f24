package store

import (
	"context"

	"github.com/DataDog/zstd"
)

// CompressedStore wraps another Store[[]byte], zstd-compressing values on the
// way in and decompressing them on the way out. Used for persistence backends
// configured with compression enabled, where values are already serialized
// (CBOR) byte slices rather than arbitrary Go values.
type CompressedStore struct {
	inner Store[[]byte]
}

// NewCompressedStore wraps inner with zstd compression.
func NewCompressedStore(inner Store[[]byte]) *CompressedStore {
	return &CompressedStore{inner: inner}
}

func (c *CompressedStore) Save(ctx context.Context, key string, value []byte) error {
	compressed, err := zstd.Compress(nil, value)
	if err != nil {
		return err
	}
	return c.inner.Save(ctx, key, compressed)
}

func (c *CompressedStore) Load(ctx context.Context, key string) ([]byte, error) {
	compressed, err := c.inner.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return zstd.Decompress(nil, compressed)
}

func (c *CompressedStore) Delete(ctx context.Context, key string) error {
	return c.inner.Delete(ctx, key)
}

func (c *CompressedStore) Exists(ctx context.Context, key string) (bool, error) {
	return c.inner.Exists(ctx, key)
}

func (c *CompressedStore) List(ctx context.Context) ([]string, error) {
	return c.inner.List(ctx)
}

func (c *CompressedStore) Count(ctx context.Context) (int64, error) {
	return c.inner.Count(ctx)
}

func (c *CompressedStore) Close() error {
	return c.inner.Close()
}

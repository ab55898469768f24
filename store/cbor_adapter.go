package store

import (
	"context"

	"github.com/fxamacker/cbor/v2"
)

// cborStore adapts a byte-oriented Store[[]byte] into a Store[T] by CBOR
// marshaling values on the way in and unmarshaling them on the way out. This
// lets the retained/session/pending stores share one compression-aware byte
// backend (PebbleStore[[]byte] or RedisStore[[]byte], optionally wrapped in a
// CompressedStore) while still presenting a typed Store[T] to their callers.
type cborStore[T any] struct {
	bytes Store[[]byte]
}

func newCBORStore[T any](bytes Store[[]byte]) *cborStore[T] {
	return &cborStore[T]{bytes: bytes}
}

func (c *cborStore[T]) Save(ctx context.Context, key string, value T) error {
	data, err := cbor.Marshal(value)
	if err != nil {
		return err
	}
	return c.bytes.Save(ctx, key, data)
}

func (c *cborStore[T]) Load(ctx context.Context, key string) (T, error) {
	var zero T
	data, err := c.bytes.Load(ctx, key)
	if err != nil {
		return zero, err
	}
	var value T
	if err := cbor.Unmarshal(data, &value); err != nil {
		return zero, err
	}
	return value, nil
}

func (c *cborStore[T]) Delete(ctx context.Context, key string) error {
	return c.bytes.Delete(ctx, key)
}

func (c *cborStore[T]) Exists(ctx context.Context, key string) (bool, error) {
	return c.bytes.Exists(ctx, key)
}

func (c *cborStore[T]) List(ctx context.Context) ([]string, error) {
	return c.bytes.List(ctx)
}

func (c *cborStore[T]) Count(ctx context.Context) (int64, error) {
	return c.bytes.Count(ctx)
}

func (c *cborStore[T]) Close() error {
	return c.bytes.Close()
}

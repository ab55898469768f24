package store

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/axmq/ax/config"
)

// Reserved store names, one Pebble/Redis keyspace per concern. Pending-message
// stores are named "pending/<clientID>" so each client's queue lives under its
// own prefix within the shared backend.
const (
	NameSessions            = "sessions"
	NameRetained            = "retained"
	NameSharedSubscriptions = "sharedSubscriptions"
	pendingPrefix           = "pending/"
)

// PendingName returns the store name for clientID's pending-publish queue.
func PendingName(clientID string) string {
	return pendingPrefix + clientID
}

// ErrReservedKeyCharacter is returned when a key contains '+' or '#', the two
// bytes MQTT reserves as topic-filter wildcards and which the named-store
// scheme therefore refuses to let collide with a literal key.
var ErrReservedKeyCharacter = errors.New("store: key may not contain '+' or '#'")

// ValidateKey rejects keys containing the wildcard characters reserved by the
// named-store scheme.
func ValidateKey(key string) error {
	if strings.ContainsAny(key, "+#") {
		return ErrReservedKeyCharacter
	}
	return nil
}

// Factory builds named, typed stores against one configured backend (Pebble or
// Redis), per config.Persistence. Every store it hands out shares the backend's
// on-disk/remote connection; Close shuts all of them down together.
type Factory struct {
	cfg     *config.Persistence
	pebble  *pebbleBackend
	closers []func() error
}

type pebbleBackend struct {
	dir string
}

// NewFactory opens the configured backend. For a Pebble backend this just
// records the root directory; individual stores open their own sub-database
// under cfg.Path/<name> so sessions, retained messages and per-client pending
// queues don't contend on one set of Pebble keys.
func NewFactory(cfg *config.Persistence) (*Factory, error) {
	f := &Factory{cfg: cfg}
	switch cfg.Backend {
	case "pebble":
		f.pebble = &pebbleBackend{dir: cfg.Path}
	case "redis":
		// RedisStore dials lazily per named store; nothing to open up front.
	default:
		return nil, errors.Newf("store: unknown persistence backend %q", cfg.Backend)
	}
	return f, nil
}

// Open returns the typed store named name, backed by cfg's configured backend
// and, for Pebble, wrapped in zstd compression if cfg.Compression is set.
func Open[T any](f *Factory, name string) (Store[T], error) {
	if err := ValidateKey(name); err != nil {
		return nil, err
	}

	var bytesStore Store[[]byte]
	switch f.cfg.Backend {
	case "pebble":
		ps, err := NewPebbleStore[[]byte](PebbleStoreConfig{
			Path:   filepath.Join(f.pebble.dir, name),
			Prefix: name + ":",
		})
		if err != nil {
			return nil, errors.Wrapf(err, "store: open pebble store %q", name)
		}
		bytesStore = ps
		f.closers = append(f.closers, ps.Close)
	case "redis":
		rs, err := NewRedisStore[[]byte](RedisStoreConfig{
			Addr:   f.cfg.RedisAddr,
			Prefix: name + ":",
		})
		if err != nil {
			return nil, errors.Wrapf(err, "store: open redis store %q", name)
		}
		bytesStore = rs
		f.closers = append(f.closers, rs.Close)
	default:
		return nil, errors.Newf("store: unknown persistence backend %q", f.cfg.Backend)
	}

	if f.cfg.Compression {
		bytesStore = NewCompressedStore(bytesStore)
	}
	return newCBORStore[T](bytesStore), nil
}

// Close shuts down every store this factory has opened.
func (f *Factory) Close() error {
	var firstErr error
	for _, closer := range f.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNotExist is returned by ReadDocument when nothing was ever written.
var ErrNotExist = errors.New("storage: document does not exist")

// Config configures the document store.
type Config struct {
	Driver string
	Path   string

	BusyTimeout time.Duration // sqlite

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}

// Store reads and writes the whole job document. Implementations must never
// leave a half-written document behind: a failed write keeps the previous one.
type Store interface {
	ReadDocument(ctx context.Context) ([]byte, error)
	WriteDocument(ctx context.Context, doc []byte) error
	// PreserveDocument stores doc under a side name that WriteDocument never
	// touches and returns where it went. Used to set aside a document that
	// could not be decoded before it gets replaced.
	PreserveDocument(ctx context.Context, doc []byte) (string, error)
	// Describe names the backing location for logs.
	Describe() string
	Close() error
}

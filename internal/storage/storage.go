package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultSignedURLExpiry is used when SignedURL is called without options.
const DefaultSignedURLExpiry = time.Hour

// ErrNotFound reports an absent object. Get and SignedURL also return it when
// the backend failed in a way the caller cannot act on; the cause is wrapped
// alongside it so errors.Is still matches the original failure.
var ErrNotFound = errors.New("object not found")

// Storage is the contract every backend bound to a dataset implements.
type Storage interface {
	// Get returns the object's bytes, or an error matching ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes or overwrites the object, creating any prerequisites.
	Put(ctx context.Context, key string, data []byte) error
	// PutFromPath copies a file already on local disk into the object.
	PutFromPath(ctx context.Context, key, sourcePath string) error
	// SignedURL returns a URL a third party can fetch the object from directly.
	SignedURL(ctx context.Context, key string, opts ...SignOption) (string, error)
}

// NotFound returns ErrNotFound, wrapping cause when there is one.
func NotFound(cause error) error {
	switch {
	case cause == nil:
		return ErrNotFound
	case errors.Is(cause, ErrNotFound):
		return cause
	default:
		return fmt.Errorf("%w: %w", ErrNotFound, cause)
	}
}

type SignOptions struct {
	Expiry   time.Duration
	NoExpiry bool
}

type SignOption func(*SignOptions)

// WithExpiry sets how long the link stays valid. Zero or negative values
// produce a link that is already expired where the backend can express it.
func WithExpiry(d time.Duration) SignOption {
	return func(o *SignOptions) {
		o.Expiry = d
		o.NoExpiry = false
	}
}

// WithoutExpiry requests a link without a time bound. Backends that cannot
// issue unbounded links apply their own maximum.
func WithoutExpiry() SignOption {
	return func(o *SignOptions) {
		o.NoExpiry = true
	}
}

func ResolveSignOptions(opts ...SignOption) SignOptions {
	o := SignOptions{Expiry: DefaultSignedURLExpiry}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ExpiresAt returns the expiry instant relative to now, or ok=false when the
// link has no expiry.
func (o SignOptions) ExpiresAt(now time.Time) (time.Time, bool) {
	if o.NoExpiry {
		return time.Time{}, false
	}
	return now.Add(o.Expiry), true
}

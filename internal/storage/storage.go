package storage

import (
	"context"
)

// SecureStore persists confidential values (refresh and access tokens).
// Implementations must keep values confidential at rest.
type SecureStore interface {
	GetSecret(ctx context.Context, key string) (string, bool, error)
	SetSecret(ctx context.Context, key, value string) error
	RemoveSecret(ctx context.Context, key string) error
}

// SettingsStore persists non-sensitive metadata such as expiry timestamps
// and cached user profiles.
type SettingsStore interface {
	GetString(ctx context.Context, key string) (string, bool, error)
	SetString(ctx context.Context, key, value string) error
	GetNumber(ctx context.Context, key string) (int64, bool, error)
	SetNumber(ctx context.Context, key string, value int64) error
	RemoveSetting(ctx context.Context, key string) error
}

// Batch is a set of writes applied together by a Transactor.
type Batch interface {
	SetSecret(key, value string) error
	RemoveSecret(key string) error
	SetString(key, value string) error
	SetNumber(key string, value int64) error
	RemoveSetting(key string) error
}

// Transactor is implemented by backends that can apply writes to both the
// secret and settings partitions atomically.
type Transactor interface {
	Update(ctx context.Context, fn func(Batch) error) error
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrInvalidInput = errors.New("invalid input")
)

// SQLiteStorage keeps secrets and settings in a SQLite database. Secret
// values are sealed with AES-256-GCM before they reach disk.
type SQLiteStorage struct {
	db  *sql.DB
	key []byte
}

var (
	_ SecureStore   = (*SQLiteStorage)(nil)
	_ SettingsStore = (*SQLiteStorage)(nil)
	_ Transactor    = (*SQLiteStorage)(nil)
)

// NewSQLiteStorage wraps an open database. key must be KeySize bytes.
func NewSQLiteStorage(db *sql.DB, key []byte) (*SQLiteStorage, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database cannot be nil", ErrInvalidInput)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return &SQLiteStorage{db: db, key: key}, nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidInput)
	}
	return nil
}

// GetSecret returns the decrypted value stored under key.
func (s *SQLiteStorage) GetSecret(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}

	var ciphertext, nonce []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT ciphertext, nonce FROM secrets WHERE key = ?", key).Scan(&ciphertext, &nonce)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get secret: %w", err)
	}

	plaintext, err := DecryptValue(s.key, ciphertext, nonce, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to open secret %s: %w", key, err)
	}
	return string(plaintext), true, nil
}

// SetSecret encrypts and stores value under key.
func (s *SQLiteStorage) SetSecret(ctx context.Context, key, value string) error {
	return s.Update(ctx, func(b Batch) error { return b.SetSecret(key, value) })
}

// RemoveSecret deletes key. Removing a missing key is not an error.
func (s *SQLiteStorage) RemoveSecret(ctx context.Context, key string) error {
	return s.Update(ctx, func(b Batch) error { return b.RemoveSecret(key) })
}

// GetString returns the setting stored under key.
func (s *SQLiteStorage) GetString(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get setting: %w", err)
	}
	return value, true, nil
}

// SetString stores a string setting.
func (s *SQLiteStorage) SetString(ctx context.Context, key, value string) error {
	return s.Update(ctx, func(b Batch) error { return b.SetString(key, value) })
}

// GetNumber returns the numeric setting stored under key.
func (s *SQLiteStorage) GetNumber(ctx context.Context, key string) (int64, bool, error) {
	value, ok, err := s.GetString(ctx, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("setting %s is not a number: %w", key, err)
	}
	return n, true, nil
}

// SetNumber stores a numeric setting.
func (s *SQLiteStorage) SetNumber(ctx context.Context, key string, value int64) error {
	return s.Update(ctx, func(b Batch) error { return b.SetNumber(key, value) })
}

// RemoveSetting deletes key. Removing a missing key is not an error.
func (s *SQLiteStorage) RemoveSetting(ctx context.Context, key string) error {
	return s.Update(ctx, func(b Batch) error { return b.RemoveSetting(key) })
}

// Update runs fn inside a single transaction. The transaction is committed
// when fn returns nil and rolled back otherwise.
func (s *SQLiteStorage) Update(ctx context.Context, fn func(Batch) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

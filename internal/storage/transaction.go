package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrTransactionClosed = errors.New("transaction is already closed")
)

// Transaction represents a database transaction
type Transaction struct {
	ctx    context.Context
	tx     *sql.Tx
	key    []byte
	closed bool
}

var _ Batch = (*Transaction)(nil)

// BeginTx starts a new database transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (*Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{ctx: ctx, tx: tx, key: s.key}, nil
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true
	return t.tx.Commit()
}

// Rollback rolls back the transaction
func (t *Transaction) Rollback() error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true
	return t.tx.Rollback()
}

// SetSecret encrypts and upserts a secret within the transaction
func (t *Transaction) SetSecret(key, value string) error {
	if t.closed {
		return ErrTransactionClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}

	ciphertext, nonce, err := EncryptValue(t.key, []byte(value), key)
	if err != nil {
		return fmt.Errorf("failed to seal secret %s: %w", key, err)
	}

	query := `
		INSERT INTO secrets (key, ciphertext, nonce, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			nonce = excluded.nonce,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := t.tx.ExecContext(t.ctx, query, key, ciphertext, nonce); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

// RemoveSecret deletes a secret within the transaction
func (t *Transaction) RemoveSecret(key string) error {
	if t.closed {
		return ErrTransactionClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx, "DELETE FROM secrets WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to remove secret: %w", err)
	}
	return nil
}

// SetString upserts a setting within the transaction
func (t *Transaction) SetString(key, value string) error {
	if t.closed {
		return ErrTransactionClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}

	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := t.tx.ExecContext(t.ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to store setting: %w", err)
	}
	return nil
}

// SetNumber upserts a numeric setting within the transaction
func (t *Transaction) SetNumber(key string, value int64) error {
	return t.SetString(key, strconv.FormatInt(value, 10))
}

// RemoveSetting deletes a setting within the transaction
func (t *Transaction) RemoveSetting(key string) error {
	if t.closed {
		return ErrTransactionClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to remove setting: %w", err)
	}
	return nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"auth0session-go/internal/storage"
)

// Persisted keys. The prefix keeps them apart from host application settings.
const (
	KeyPrefix            = "@auth0session/"
	KeyRefreshToken      = KeyPrefix + "refresh_token"
	KeyAccessToken       = KeyPrefix + "access_token"
	KeyAccessTokenExpire = KeyPrefix + "access_token_expire"
	KeyUserInfo          = KeyPrefix + "user_info"
	KeyPendingVerifier   = KeyPrefix + "pending_verifier"
)

// Snapshot is a consistent read of the persisted token state.
type Snapshot struct {
	RefreshToken string
	AccessToken  string
	Expiry       time.Time
	HasExpiry    bool
	Generation   uint64
}

// HasSession reports whether a refresh token is held.
func (s Snapshot) HasSession() bool { return s.RefreshToken != "" }

// AccessTokenValid reports whether the cached access token may be served at
// now without a refresh.
func (s Snapshot) AccessTokenValid(now time.Time) bool {
	return s.AccessToken != "" && s.HasExpiry && !now.After(s.Expiry)
}

// TokenStore persists one TokenSet across a secure store and a settings
// store. All reads and writes are linearized; when both stores are the same
// storage.Transactor, multi-key writes are also a single transaction.
type TokenStore struct {
	mu         sync.RWMutex
	secure     storage.SecureStore
	settings   storage.SettingsStore
	tx         storage.Transactor
	generation uint64
}

// NewTokenStore wraps the two collaborators.
func NewTokenStore(secure storage.SecureStore, settings storage.SettingsStore) *TokenStore {
	s := &TokenStore{secure: secure, settings: settings}
	if t, ok := secure.(storage.Transactor); ok && sameStore(secure, settings) {
		s.tx = t
	}
	return s
}

func sameStore(a, b interface{}) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// Generation returns the current clear counter. Pass it to Save to reject
// writes from an exchange that began before a Clear.
func (s *TokenStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Load reads the current token state.
func (s *TokenStore) Load(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Generation: s.generation}

	var err error
	if snap.RefreshToken, _, err = s.secure.GetSecret(ctx, KeyRefreshToken); err != nil {
		return Snapshot{}, fmt.Errorf("failed to load refresh token: %w", err)
	}
	if snap.AccessToken, _, err = s.secure.GetSecret(ctx, KeyAccessToken); err != nil {
		return Snapshot{}, fmt.Errorf("failed to load access token: %w", err)
	}
	ms, ok, err := s.settings.GetNumber(ctx, KeyAccessTokenExpire)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load access token expiry: %w", err)
	}
	if ok {
		snap.Expiry = time.UnixMilli(ms)
		snap.HasExpiry = true
	}
	return snap, nil
}

// Save persists set. The refresh token is only replaced when set carries
// one. Save fails with ErrStaleGeneration if Clear ran since ifGeneration
// was read.
func (s *TokenStore) Save(ctx context.Context, set *TokenSet, ifGeneration uint64) error {
	if set == nil || set.AccessToken == "" {
		return fmt.Errorf("%w: token set has no access token", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != ifGeneration {
		return ErrStaleGeneration
	}

	write := func(b storage.Batch) error {
		if set.RefreshToken != "" {
			if err := b.SetSecret(KeyRefreshToken, set.RefreshToken); err != nil {
				return err
			}
		}
		if err := b.SetSecret(KeyAccessToken, set.AccessToken); err != nil {
			return err
		}
		return b.SetNumber(KeyAccessTokenExpire, set.Expiry.UnixMilli())
	}

	if err := s.update(ctx, write); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

// DropAccessToken forgets the cached access token so the next lookup
// refreshes.
func (s *TokenStore) DropAccessToken(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(ctx, func(b storage.Batch) error {
		if err := b.RemoveSecret(KeyAccessToken); err != nil {
			return err
		}
		return b.RemoveSetting(KeyAccessTokenExpire)
	})
}

// Clear removes every persisted entry and bumps the generation. Every key
// is attempted even if an earlier removal fails.
func (s *TokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++

	if s.tx != nil {
		err := s.tx.Update(ctx, func(b storage.Batch) error {
			return errors.Join(
				b.RemoveSecret(KeyRefreshToken),
				b.RemoveSecret(KeyAccessToken),
				b.RemoveSetting(KeyAccessTokenExpire),
				b.RemoveSetting(KeyUserInfo),
				b.RemoveSetting(KeyPendingVerifier),
			)
		})
		if err == nil {
			return nil
		}
		// Fall through to per-key removal so a failed transaction still
		// clears whatever it can.
	}

	if err := errors.Join(
		s.secure.RemoveSecret(ctx, KeyRefreshToken),
		s.secure.RemoveSecret(ctx, KeyAccessToken),
		s.settings.RemoveSetting(ctx, KeyAccessTokenExpire),
		s.settings.RemoveSetting(ctx, KeyUserInfo),
		s.settings.RemoveSetting(ctx, KeyPendingVerifier),
	); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}

// UserInfo returns the cached user-info JSON.
func (s *TokenStore) UserInfo(ctx context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.GetString(ctx, KeyUserInfo)
}

// SetUserInfo caches a user-info document unless the store was cleared
// since ifGeneration.
func (s *TokenStore) SetUserInfo(ctx context.Context, info string, ifGeneration uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != ifGeneration {
		return ErrStaleGeneration
	}
	return s.settings.SetString(ctx, KeyUserInfo, info)
}

// InvalidateUserInfo drops the cached user-info document.
func (s *TokenStore) InvalidateUserInfo(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.RemoveSetting(ctx, KeyUserInfo)
}

// SetPendingVerifier parks the verifier of an attempt awaiting a deep-link
// redirect.
func (s *TokenStore) SetPendingVerifier(ctx context.Context, attemptID, verifier string) error {
	if attemptID == "" || verifier == "" {
		return fmt.Errorf("%w: attempt and verifier are required", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.SetString(ctx, KeyPendingVerifier, attemptID+":"+verifier)
}

// TakePendingVerifier returns and removes the parked verifier if it belongs
// to attemptID. A verifier parked by another attempt is removed and not
// returned.
func (s *TokenStore) TakePendingVerifier(ctx context.Context, attemptID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok, err := s.settings.GetString(ctx, KeyPendingVerifier)
	if err != nil || !ok {
		return "", false, err
	}
	if err := s.settings.RemoveSetting(ctx, KeyPendingVerifier); err != nil {
		return "", false, err
	}

	owner, verifier, found := strings.Cut(value, ":")
	if !found || owner != attemptID {
		return "", false, nil
	}
	return verifier, true, nil
}

func (s *TokenStore) update(ctx context.Context, fn func(storage.Batch) error) error {
	if s.tx != nil {
		return s.tx.Update(ctx, fn)
	}
	return fn(&directBatch{ctx: ctx, secure: s.secure, settings: s.settings})
}

// directBatch applies writes immediately to stores that cannot share a
// transaction. Atomicity for readers comes from the TokenStore lock.
type directBatch struct {
	ctx      context.Context
	secure   storage.SecureStore
	settings storage.SettingsStore
}

func (b *directBatch) SetSecret(key, value string) error {
	return b.secure.SetSecret(b.ctx, key, value)
}

func (b *directBatch) RemoveSecret(key string) error {
	return b.secure.RemoveSecret(b.ctx, key)
}

func (b *directBatch) SetString(key, value string) error {
	return b.settings.SetString(b.ctx, key, value)
}

func (b *directBatch) SetNumber(key string, value int64) error {
	return b.settings.SetNumber(b.ctx, key, value)
}

func (b *directBatch) RemoveSetting(key string) error {
	return b.settings.RemoveSetting(b.ctx, key)
}

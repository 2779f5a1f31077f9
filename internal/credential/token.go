// Package credential loads OAuth tokens obtained outside of the triage agent.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

const (
	serviceName = "mailtriage"
	tokenKey    = "gmail-token"
)

// ErrNoToken is returned when no token is stored anywhere
var ErrNoToken = errors.New("no oauth token found")

// TokenStore reads and writes the Google OAuth token.
// The OS keyring is tried first, then the token file.
type TokenStore struct {
	ring     keyring.Keyring
	filePath string
	logger   *slog.Logger
}

// NewTokenStore creates a token store. With useKeyring false, or when no keyring
// backend is available on the host, only the file is used.
func NewTokenStore(filePath string, useKeyring bool, logger *slog.Logger) (*TokenStore, error) {
	return newTokenStore(filePath, useKeyring, openKeyring, logger)
}

func newTokenStore(filePath string, useKeyring bool, open func() (keyring.Keyring, error), logger *slog.Logger) (*TokenStore, error) {
	s := &TokenStore{filePath: filePath, logger: logger.With("component", "token_store")}
	if !useKeyring {
		return s, nil
	}

	ring, err := open()
	if err != nil {
		s.logger.Warn("keyring unavailable, using token file only", "file", filePath, "error", err)
		return s, nil
	}
	s.ring = ring
	return s, nil
}

func openKeyring() (keyring.Keyring, error) {
	return keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
	})
}

// Load returns the stored token
func (s *TokenStore) Load() (*oauth2.Token, error) {
	if s.ring != nil {
		item, err := s.ring.Get(tokenKey)
		if err == nil {
			return decodeToken(item.Data)
		}
		if !errors.Is(err, keyring.ErrKeyNotFound) {
			s.logger.Warn("failed to read token from keyring, trying file", "error", err)
		}
	}

	if s.filePath == "" {
		return nil, ErrNoToken
	}
	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s missing; authorize the account and save its token there", ErrNoToken, s.filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	return decodeToken(data)
}

// Save persists a token, preferring the keyring
func (s *TokenStore) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	if s.ring != nil {
		if err := s.ring.Set(keyring.Item{Key: tokenKey, Data: data}); err != nil {
			return fmt.Errorf("failed to store token in keyring: %w", err)
		}
		return nil
	}

	if err := os.WriteFile(s.filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

func decodeToken(data []byte) (*oauth2.Token, error) {
	tok := &oauth2.Token{}
	if err := json.Unmarshal(data, tok); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return tok, nil
}

// SavingTokenSource writes refreshed tokens back to the store
type SavingTokenSource struct {
	base  oauth2.TokenSource
	store *TokenStore
	last  string
}

// NewSavingTokenSource wraps base so refreshed access tokens are persisted
func NewSavingTokenSource(base oauth2.TokenSource, store *TokenStore, initial *oauth2.Token) *SavingTokenSource {
	last := ""
	if initial != nil {
		last = initial.AccessToken
	}
	return &SavingTokenSource{base: base, store: store, last: last}
}

// Token implements oauth2.TokenSource
func (s *SavingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		// Failing to persist only costs another refresh on restart
		_ = s.store.Save(tok)
	}
	return tok, nil
}

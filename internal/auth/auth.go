package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"rapidcast/pkg/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrWrongSession = errors.New("token not valid for this session")
)

// Manager issues and checks session control tokens
type Manager struct {
	tokens map[string]*models.ControlToken // token -> ControlToken
	mu     sync.RWMutex

	expiration time.Duration
}

// New creates a new auth manager whose tokens live for expiration
func New(expiration time.Duration) *Manager {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &Manager{
		tokens:     make(map[string]*models.ControlToken),
		expiration: expiration,
	}
}

// Issue creates a control token for a session
func (m *Manager) Issue(sessionID string) (*models.ControlToken, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	now := time.Now()
	token := &models.ControlToken{
		Token:     hex.EncodeToString(tokenBytes),
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.expiration),
	}

	m.mu.Lock()
	m.tokens[token.Token] = token
	m.mu.Unlock()

	return token, nil
}

// Validate checks that tokenString controls sessionID
func (m *Manager) Validate(tokenString, sessionID string) error {
	m.mu.RLock()
	token, exists := m.tokens[tokenString]
	m.mu.RUnlock()

	if !exists {
		return ErrInvalidToken
	}
	if !token.IsValid() {
		return ErrExpiredToken
	}
	if subtle.ConstantTimeCompare([]byte(token.SessionID), []byte(sessionID)) != 1 {
		return ErrWrongSession
	}
	return nil
}

// Revoke removes every token of a session
func (m *Manager) Revoke(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for tokenString, token := range m.tokens {
		if token.SessionID == sessionID {
			delete(m.tokens, tokenString)
		}
	}
}

// RevokeToken removes a single token
func (m *Manager) RevokeToken(tokenString string) {
	m.mu.Lock()
	delete(m.tokens, tokenString)
	m.mu.Unlock()
}

// CleanupExpiredTokens removes all expired tokens
func (m *Manager) CleanupExpiredTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for tokenString, token := range m.tokens {
		if now.After(token.ExpiresAt) {
			delete(m.tokens, tokenString)
			removed++
		}
	}
	return removed
}

// Run cleans up expired tokens every interval until ctx is cancelled
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.CleanupExpiredTokens()
		}
	}
}

// GetTokenCount returns the number of tokens held
func (m *Manager) GetTokenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}

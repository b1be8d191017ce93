// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/cloudctl/pkg/metrics"
)

const (
	SessionVersion = 1

	DefaultKeychainService = "cloudctl"
	DefaultKeychainAccount = "default"
)

type SessionMetadata struct {
	CreatedAt       time.Time  `json:"createdAt"`
	LastRefreshedAt *time.Time `json:"lastRefreshedAt,omitempty"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	Scopes          []string   `json:"scopes"`
}

// AuthenticationSession is the single persisted login.
type AuthenticationSession struct {
	Version  int             `json:"version"`
	User     User            `json:"user"`
	Tokens   TokenSet        `json:"tokens"`
	Metadata SessionMetadata `json:"metadata"`
}

// NewSession builds the session stored after a successful authorization.
func NewSession(tokens TokenSet, user User, requestedScopes []string, now time.Time) *AuthenticationSession {
	now = now.UTC()
	return &AuthenticationSession{
		Version: SessionVersion,
		User:    user,
		Tokens:  tokens,
		Metadata: SessionMetadata{
			CreatedAt: now,
			ExpiresAt: now.Add(lifetime(tokens.ExpiresIn)),
			Scopes:    grantedScopes(tokens.Scope, requestedScopes),
		},
	}
}

// Refreshed returns a copy of s carrying tokens obtained from a refresh grant.
// The old refresh token is kept when the server did not rotate it.
func (s *AuthenticationSession) Refreshed(tokens TokenSet, now time.Time) *AuthenticationSession {
	now = now.UTC()
	next := *s
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = s.Tokens.RefreshToken
	}
	if tokens.IDToken == "" {
		tokens.IDToken = s.Tokens.IDToken
	}
	next.Tokens = tokens
	next.Metadata.LastRefreshedAt = &now
	next.Metadata.ExpiresAt = now.Add(lifetime(tokens.ExpiresIn))
	next.Metadata.Scopes = grantedScopes(tokens.Scope, s.Metadata.Scopes)
	return &next
}

func lifetime(expiresIn int64) time.Duration {
	if expiresIn > maxExpiresIn {
		expiresIn = maxExpiresIn
	}
	return time.Duration(expiresIn) * time.Second
}

// IsSessionExpired reports whether s expires within buffer of now.
func IsSessionExpired(s *AuthenticationSession, buffer time.Duration, now time.Time) bool {
	return !now.Add(buffer).Before(s.Metadata.ExpiresAt)
}

func grantedScopes(granted string, requested []string) []string {
	if fields := strings.Fields(granted); len(fields) > 0 {
		return fields
	}
	return append([]string(nil), requested...)
}

func (s *AuthenticationSession) validate() error {
	switch {
	case s.Version != SessionVersion:
		return fmt.Errorf("unsupported session version %d", s.Version)
	case s.Tokens.AccessToken == "":
		return errors.New("session has no access token")
	case s.Tokens.TokenType != tokenTypeBearer:
		return fmt.Errorf("session token type %q is not Bearer", s.Tokens.TokenType)
	case s.Tokens.ExpiresIn <= 0:
		return errors.New("session has no positive expiresIn")
	case s.Metadata.CreatedAt.IsZero() || s.Metadata.ExpiresAt.IsZero():
		return errors.New("session timestamps missing")
	}
	issued := s.Metadata.CreatedAt
	if s.Metadata.LastRefreshedAt != nil {
		issued = *s.Metadata.LastRefreshedAt
	}
	if !issued.Add(lifetime(s.Tokens.ExpiresIn)).Equal(s.Metadata.ExpiresAt) {
		return errors.New("session expiresAt does not match issue time plus expiresIn")
	}
	return nil
}

// SessionStore persists one session under a fixed (service, account) key.
type SessionStore struct {
	keychain Keychain
	service  string
	account  string
	clock    clock.PassiveClock
	log      *zap.SugaredLogger
}

func NewSessionStore(keychain Keychain, service, account string, clk clock.PassiveClock, log *zap.SugaredLogger) *SessionStore {
	if service == "" {
		service = DefaultKeychainService
	}
	if account == "" {
		account = DefaultKeychainAccount
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SessionStore{keychain: keychain, service: service, account: account, clock: clk, log: log}
}

// Load returns the stored session, or nil when there is none. A corrupted
// entry is deleted and reported as absent.
func (s *SessionStore) Load() (*AuthenticationSession, error) {
	blob, err := s.keychain.Get(s.service, s.account)
	if errors.Is(err, ErrKeychainNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newError(KindKeychain, "failed to read session", err)
	}

	var session AuthenticationSession
	if err := json.Unmarshal([]byte(blob), &session); err != nil {
		s.discardCorrupted(err)
		return nil, nil
	}
	if err := session.validate(); err != nil {
		s.discardCorrupted(err)
		return nil, nil
	}
	return &session, nil
}

func (s *SessionStore) discardCorrupted(reason error) {
	s.log.Warnw("Discarding corrupted session from keychain", "service", s.service, "account", s.account, "reason", reason.Error())
	metrics.SessionsDiscarded.Inc()
	if err := s.keychain.Delete(s.service, s.account); err != nil && !errors.Is(err, ErrKeychainNotFound) {
		s.log.Warnw("Failed to delete corrupted session", "error", err)
	}
}

// Save overwrites the stored session.
func (s *SessionStore) Save(session *AuthenticationSession) error {
	if session == nil {
		return newError(KindKeychain, "session is nil", nil)
	}
	content, err := json.Marshal(session)
	if err != nil {
		return newError(KindKeychain, "failed to marshal session", err)
	}
	if err := s.keychain.Set(s.service, s.account, string(content)); err != nil {
		return newError(KindKeychain, "failed to write session", err)
	}
	return nil
}

// Delete removes the stored session. Deleting a missing session succeeds.
func (s *SessionStore) Delete() error {
	err := s.keychain.Delete(s.service, s.account)
	if err != nil && !errors.Is(err, ErrKeychainNotFound) {
		return newError(KindKeychain, "failed to delete session", err)
	}
	return nil
}

// RequireValid returns the stored session if it is still valid buffer from now.
func (s *SessionStore) RequireValid(buffer time.Duration) (*AuthenticationSession, error) {
	session, err := s.Load()
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, newError(KindNotAuthenticated, "no session stored", nil)
	}
	if IsSessionExpired(session, buffer, s.clock.Now()) {
		return nil, newError(KindNotAuthenticated, "session expired", nil)
	}
	return session, nil
}

// Package session owns the viewer's credential: it decodes the token issued at login, persists
// it across restarts and hands it to the components that talk to the server.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"seertix/pkg/apperr"
	"seertix/pkg/models"
)

const tokenKey = "token"

var (
	ErrInvalidToken = fmt.Errorf("invalid token")
	ErrNoSession    = fmt.Errorf("no active session")
)

// Claims are the token fields the client relies on. The signature is verified by the server only.
type Claims struct {
	UserID models.ID
	Name   string
	Expiry time.Time
}

// Expired reports whether the claims carry an expiry that is not after now.
func (c Claims) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && !now.Before(c.Expiry)
}

// ParseClaims decodes the payload of a JWT without verifying its signature.
func ParseClaims(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var c Claims
	for _, key := range []string{"userId", "id", "sub"} {
		if id := claimString(mc[key]); id != "" {
			c.UserID = models.ID(id)
			break
		}
	}
	if c.UserID.IsZero() {
		return Claims{}, fmt.Errorf("%w: no user id claim", ErrInvalidToken)
	}
	for _, key := range []string{"name", "username"} {
		if name := claimString(mc[key]); name != "" {
			c.Name = name
			break
		}
	}

	exp, err := mc.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp != nil {
		c.Expiry = exp.Time
	}

	return c, nil
}

func claimString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

type Session struct {
	store Store
	now   func() time.Time

	mu     sync.RWMutex
	token  string
	claims Claims
}

func New(store Store) *Session {
	return &Session{store: store, now: time.Now}
}

// Restore loads the persisted token. An unreadable or expired token is removed from the store.
func (s *Session) Restore(ctx context.Context) error {
	token, err := s.store.Get(ctx, tokenKey)
	if errors.Is(err, ErrNotFound) {
		return ErrNoSession
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	claims, err := ParseClaims(token)
	if err == nil && claims.Expired(s.now()) {
		err = fmt.Errorf("%w: expired at %v", ErrInvalidToken, claims.Expiry)
	}
	if err != nil {
		log.Warnf("[session] dropping persisted token: %v", err)
		if delErr := s.store.Delete(ctx, tokenKey); delErr != nil {
			log.Errorf("[session] failed to delete persisted token: %v", delErr)
		}
		return err
	}

	s.mu.Lock()
	s.token, s.claims = token, claims
	s.mu.Unlock()

	log.Debugf("[session] restored session of user %s", claims.UserID)
	return nil
}

// Login adopts a token returned by the server and persists it.
func (s *Session) Login(ctx context.Context, token string) error {
	claims, err := ParseClaims(token)
	if err != nil {
		return err
	}
	if claims.Expired(s.now()) {
		return fmt.Errorf("%w: expired at %v", ErrInvalidToken, claims.Expiry)
	}

	if err := s.store.Set(ctx, tokenKey, token); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	s.mu.Lock()
	s.token, s.claims = token, claims
	s.mu.Unlock()

	log.Infof("[session] logged in as user %s", claims.UserID)
	return nil
}

// Logout forgets the token in memory and in the store.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.token, s.claims = "", Claims{}
	s.mu.Unlock()

	if err := s.store.Delete(ctx, tokenKey); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	log.Info("[session] logged out")
	return nil
}

// Token returns the bearer credential, or an unauthorized error when there is none or it expired.
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return "", apperr.Unauthorized("session", "please log in", ErrNoSession)
	}
	if s.claims.Expired(s.now()) {
		return "", apperr.Unauthorized("session", "", ErrInvalidToken)
	}
	return s.token, nil
}

func (s *Session) UserID() models.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claims.UserID
}

func (s *Session) Claims() Claims {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claims
}

func (s *Session) Authenticated() bool {
	_, err := s.Token()
	return err == nil
}

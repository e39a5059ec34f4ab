// Package auth handles operator sessions for the collector's operator endpoints.
package auth

import (
	"encoding/gob"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
)

func init() {
	gob.Register(time.Time{})
}

const (
	// SessionName is the name of the session cookie.
	SessionName = "bpcmon_session"
	// UsernameKey is the session key for the operator's username.
	UsernameKey = "username"
	// RoleKey is the session key for the operator's role.
	RoleKey = "role"
	// AuthenticatedAtKey is the session key for when the operator logged in.
	AuthenticatedAtKey = "authenticated_at"
)

// ErrNoOperator is returned when the session carries no logged in operator.
var ErrNoOperator = errors.New("no operator in session")

// SessionConfig holds session store configuration.
type SessionConfig struct {
	Secret     []byte
	MaxAge     int  // seconds
	Secure     bool // require HTTPS
	HTTPOnly   bool
	SameSite   http.SameSite
	CookiePath string
}

// DefaultSessionConfig returns a SessionConfig with secure defaults.
func DefaultSessionConfig(secret []byte, secure bool) SessionConfig {
	return SessionConfig{
		Secret:     secret,
		MaxAge:     int((12 * time.Hour).Seconds()),
		Secure:     secure,
		HTTPOnly:   true,
		SameSite:   http.SameSiteStrictMode,
		CookiePath: "/",
	}
}

// SessionStore wraps a gorilla/sessions cookie store.
type SessionStore struct {
	store  *sessions.CookieStore
	logger zerolog.Logger
}

// NewSessionStore creates a new session store.
func NewSessionStore(cfg SessionConfig, logger zerolog.Logger) (*SessionStore, error) {
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes")
	}

	store := sessions.NewCookieStore(cfg.Secret)
	store.Options = &sessions.Options{
		Path:     cfg.CookiePath,
		MaxAge:   cfg.MaxAge,
		HttpOnly: cfg.HTTPOnly,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	}

	s := &SessionStore{
		store:  store,
		logger: logger.With().Str("component", "session").Logger(),
	}
	s.logger.Debug().Bool("secure", cfg.Secure).Int("max_age", cfg.MaxAge).Msg("session store initialized")
	return s, nil
}

func (s *SessionStore) get(r *http.Request) (*sessions.Session, error) {
	session, err := s.store.Get(r, SessionName)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// SessionOperator is the operator identity stored in the session.
type SessionOperator struct {
	Username        string
	Role            Role
	AuthenticatedAt time.Time
}

// IsAdmin reports whether the operator may use admin endpoints.
func (o *SessionOperator) IsAdmin() bool {
	return o != nil && o.Role == RoleAdmin
}

// SetOperator stores the operator after a successful login.
func (s *SessionStore) SetOperator(r *http.Request, w http.ResponseWriter, op *SessionOperator) error {
	session, err := s.get(r)
	if err != nil {
		// A cookie signed with a rotated secret is replaced by a fresh session.
		session, _ = s.store.New(r, SessionName)
	}
	session.Values[UsernameKey] = op.Username
	session.Values[RoleKey] = string(op.Role)
	session.Values[AuthenticatedAtKey] = op.AuthenticatedAt
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetOperator returns the logged in operator or ErrNoOperator.
func (s *SessionStore) GetOperator(r *http.Request) (*SessionOperator, error) {
	session, err := s.get(r)
	if err != nil {
		return nil, err
	}
	username, ok := session.Values[UsernameKey].(string)
	if !ok || username == "" {
		return nil, ErrNoOperator
	}
	role, _ := session.Values[RoleKey].(string)
	at, _ := session.Values[AuthenticatedAtKey].(time.Time)
	return &SessionOperator{Username: username, Role: Role(role), AuthenticatedAt: at}, nil
}

// ClearOperator ends the session (logout).
func (s *SessionStore) ClearOperator(r *http.Request, w http.ResponseWriter) error {
	session, err := s.get(r)
	if err != nil {
		session, _ = s.store.New(r, SessionName)
	}
	delete(session.Values, UsernameKey)
	delete(session.Values, RoleKey)
	delete(session.Values, AuthenticatedAtKey)
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Role is an operator's role. Only RoleAdmin may manage sites and agents.
type Role string

const (
	// RoleAdmin may dispatch commands and manage sites.
	RoleAdmin Role = "admin"
	// RoleViewer may log in but is refused by admin endpoints.
	RoleViewer Role = "viewer"
)

// ErrInvalidCredentials is returned for any failed login.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Operator is a configured operator account.
type Operator struct {
	Username     string
	PasswordHash string
	Role         Role
}

// Authenticator checks operator logins against configured accounts.
type Authenticator struct {
	operators map[string]Operator
}

// NewAuthenticator creates an Authenticator. Accounts without a password hash
// can never log in.
func NewAuthenticator(operators ...Operator) *Authenticator {
	a := &Authenticator{operators: make(map[string]Operator, len(operators))}
	for _, op := range operators {
		if op.Username == "" {
			continue
		}
		if op.Role == "" {
			op.Role = RoleAdmin
		}
		a.operators[op.Username] = op
	}
	return a
}

// Authenticate returns the operator for a valid username and password.
func (a *Authenticator) Authenticate(username, password string) (*Operator, error) {
	op, ok := a.operators[username]
	if !ok || op.PasswordHash == "" {
		// Compare against a fixed hash so unknown users take as long as known ones.
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &op, nil
}

// HashPassword creates a bcrypt hash suitable for OPERATOR_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

var dummyHash = sync.OnceValue(func() []byte {
	hash, _ := bcrypt.GenerateFromPassword([]byte("bpcmon"), bcrypt.DefaultCost)
	return hash
})

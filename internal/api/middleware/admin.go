// Package middleware provides HTTP middleware for the collector API.
package middleware

import (
	"net/http"

	"github.com/MacJediWizard/bpcmon/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// OperatorContextKey is the gin context key for the authenticated operator.
const OperatorContextKey = "operator"

// OperatorSessions reads the operator from a request's session cookie.
type OperatorSessions interface {
	GetOperator(r *http.Request) (*auth.SessionOperator, error)
}

// RequireAdmin rejects requests without an operator session (401) or whose
// operator is not an admin (403).
func RequireAdmin(sessions OperatorSessions, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "admin_middleware").Logger()

	return func(c *gin.Context) {
		op, err := sessions.GetOperator(c.Request)
		if err != nil {
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("unauthenticated operator request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !op.IsAdmin() {
			log.Warn().Str("username", op.Username).Str("path", c.Request.URL.Path).Msg("operator lacks admin role")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}

		c.Set(OperatorContextKey, op)
		c.Next()
	}
}

// GetOperator returns the operator set by RequireAdmin, or nil.
func GetOperator(c *gin.Context) *auth.SessionOperator {
	v, ok := c.Get(OperatorContextKey)
	if !ok {
		return nil
	}
	op, _ := v.(*auth.SessionOperator)
	return op
}

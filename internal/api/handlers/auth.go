package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// OperatorAuthenticator checks operator credentials.
type OperatorAuthenticator interface {
	Authenticate(username, password string) (*auth.Operator, error)
}

// OperatorSessionStore persists the logged in operator in a cookie session.
type OperatorSessionStore interface {
	SetOperator(r *http.Request, w http.ResponseWriter, op *auth.SessionOperator) error
	GetOperator(r *http.Request) (*auth.SessionOperator, error)
	ClearOperator(r *http.Request, w http.ResponseWriter) error
}

// AuthHandler handles operator login and logout.
type AuthHandler struct {
	operators OperatorAuthenticator
	sessions  OperatorSessionStore
	logger    zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(operators OperatorAuthenticator, sessions OperatorSessionStore, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		operators: operators,
		sessions:  sessions,
		logger:    logger.With().Str("component", "auth_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the auth routes.
func (h *AuthHandler) RegisterPublicRoutes(r *gin.Engine) {
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/logout", h.Logout)
		authGroup.GET("/me", h.Me)
	}
}

// LoginRequest is the request body for operator login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// OperatorResponse describes the logged in operator.
type OperatorResponse struct {
	Username        string    `json:"username"`
	Role            auth.Role `json:"role"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

// Login authenticates an operator and starts a session.
// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	op, err := h.operators.Authenticate(req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Error().Err(err).Msg("operator authentication error")
		}
		h.logger.Warn().Str("username", req.Username).Str("client_ip", c.ClientIP()).Msg("operator login failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	sessionOp := &auth.SessionOperator{
		Username:        op.Username,
		Role:            op.Role,
		AuthenticatedAt: time.Now().UTC(),
	}
	if err := h.sessions.SetOperator(c.Request, c.Writer, sessionOp); err != nil {
		h.logger.Error().Err(err).Msg("failed to save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		return
	}

	h.logger.Info().Str("username", op.Username).Str("role", string(op.Role)).Msg("operator logged in")
	c.JSON(http.StatusOK, operatorResponse(sessionOp))
}

// Logout ends the operator session.
// POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	if op, err := h.sessions.GetOperator(c.Request); err == nil {
		h.logger.Info().Str("username", op.Username).Msg("operator logged out")
	}
	if err := h.sessions.ClearOperator(c.Request, c.Writer); err != nil {
		h.logger.Error().Err(err).Msg("failed to clear session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to end session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Me returns the logged in operator.
// GET /auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	op, err := h.sessions.GetOperator(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, operatorResponse(op))
}

func operatorResponse(op *auth.SessionOperator) OperatorResponse {
	return OperatorResponse{
		Username:        op.Username,
		Role:            op.Role,
		AuthenticatedAt: op.AuthenticatedAt,
	}
}

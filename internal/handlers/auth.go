package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"letschat/internal/auth"
	"letschat/internal/models"
)

// SessionExchanger trades an identity provider token for a session.
type SessionExchanger interface {
	Exchange(ctx context.Context, idToken string) (auth.Session, error)
}

// Accounts covers the caller's own profile.
type Accounts interface {
	SetupProfile(ctx context.Context, userID, name, about, avatar string) (models.User, error)
	Me(ctx context.Context, userID string) (models.User, error)
}

// OfflineMarker forces a user offline regardless of open connections.
type OfflineMarker interface {
	ForceOffline(ctx context.Context, userID string) error
}

// AuthHandler serves sign-in and profile endpoints.
type AuthHandler struct {
	sessions SessionExchanger
	accounts Accounts
	presence OfflineMarker
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(sessions SessionExchanger, accounts Accounts, presence OfflineMarker) *AuthHandler {
	return &AuthHandler{sessions: sessions, accounts: accounts, presence: presence}
}

// RegisterPublic mounts the unauthenticated routes.
func (h *AuthHandler) RegisterPublic(group *gin.RouterGroup) {
	group.POST("/verify-firebase-token", h.VerifyToken)
}

// Register mounts the authenticated routes.
func (h *AuthHandler) Register(group *gin.RouterGroup) {
	group.POST("/setup-profile", h.SetupProfile)
	group.GET("/me", h.Me)
	group.POST("/logout", h.Logout)
}

// VerifyToken exchanges a Firebase ID token for a session token.
func (h *AuthHandler) VerifyToken(c *gin.Context) {
	var req struct {
		IDToken string `json:"idToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IDToken == "" {
		badRequest(c, "Firebase ID token is required")
		return
	}

	session, err := h.sessions.Exchange(c.Request.Context(), req.IDToken)
	if err != nil {
		fail(c, "AuthHandler.VerifyToken", err)
		return
	}
	ok(c, gin.H{
		"message":   "Identity verified successfully",
		"token":     session.Token,
		"user":      session.User,
		"isNewUser": session.IsNewUser,
	})
}

// SetupProfile sets the caller's name, about text and avatar.
func (h *AuthHandler) SetupProfile(c *gin.Context) {
	var req struct {
		Name           string `json:"name"`
		About          string `json:"about"`
		ProfilePicture string `json:"profilePicture"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Name is required")
		return
	}

	user, err := h.accounts.SetupProfile(c.Request.Context(), currentUser(c), req.Name, req.About, req.ProfilePicture)
	if err != nil {
		fail(c, "AuthHandler.SetupProfile", err)
		return
	}
	ok(c, gin.H{"message": "Profile setup completed successfully", "user": user})
}

// Me returns the caller's record.
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.accounts.Me(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, "AuthHandler.Me", err)
		return
	}
	ok(c, gin.H{"user": user})
}

// Logout marks the caller offline. Session tokens are stateless and stay
// valid until they expire.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.presence.ForceOffline(c.Request.Context(), currentUser(c)); err != nil {
		fail(c, "AuthHandler.Logout", err)
		return
	}
	ok(c, gin.H{"message": "Logged out successfully"})
}

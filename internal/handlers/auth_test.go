package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"letschat/internal/apperr"
	"letschat/internal/auth"
	"letschat/internal/mocks"
	"letschat/internal/models"
)

func setupAuthRouter(handler *AuthHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler.RegisterPublic(r.Group("/api/auth"))
	authed := r.Group("/api/auth", func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})
	handler.Register(authed)
	return r
}

func TestVerifyTokenSuccess(t *testing.T) {
	sessions := new(mocks.SessionsMock)
	router := setupAuthRouter(NewAuthHandler(sessions, new(mocks.AccountsMock), new(mocks.PresenceMock)))

	sessions.On("Exchange", mock.Anything, "id-token").Return(auth.Session{
		Token:     "jwt",
		User:      models.User{ID: "u1", PhoneNumber: "+15550001"},
		IsNewUser: true,
	}, nil).Once()

	rec := do(router, http.MethodPost, "/api/auth/verify-firebase-token", `{"idToken":"id-token"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "jwt", resp["token"])
	assert.Equal(t, true, resp["isNewUser"])
	assert.Equal(t, "u1", resp["user"].(map[string]any)["id"])
	sessions.AssertExpectations(t)
}

func TestVerifyTokenMissing(t *testing.T) {
	router := setupAuthRouter(NewAuthHandler(new(mocks.SessionsMock), new(mocks.AccountsMock), new(mocks.PresenceMock)))

	rec := do(router, http.MethodPost, "/api/auth/verify-firebase-token", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Firebase ID token is required", decode(t, rec)["message"])
}

func TestVerifyTokenRejected(t *testing.T) {
	sessions := new(mocks.SessionsMock)
	router := setupAuthRouter(NewAuthHandler(sessions, new(mocks.AccountsMock), new(mocks.PresenceMock)))
	sessions.On("Exchange", mock.Anything, "bad").Return(nil, apperr.Unauthorized("Email not verified")).Once()

	rec := do(router, http.MethodPost, "/api/auth/verify-firebase-token", `{"idToken":"bad"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Email not verified", decode(t, rec)["message"])
}

func TestSetupProfileAndMe(t *testing.T) {
	accounts := new(mocks.AccountsMock)
	router := setupAuthRouter(NewAuthHandler(new(mocks.SessionsMock), accounts, new(mocks.PresenceMock)))

	user := models.User{ID: "u1", Name: "Alice", About: models.DefaultAbout}
	accounts.On("SetupProfile", mock.Anything, "u1", "Alice", "", "https://cdn/a.png").Return(user, nil).Once()
	accounts.On("Me", mock.Anything, "u1").Return(user, nil).Once()

	rec := do(router, http.MethodPost, "/api/auth/setup-profile", `{"name":"Alice","profilePicture":"https://cdn/a.png"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alice", decode(t, rec)["user"].(map[string]any)["name"])

	rec = do(router, http.MethodGet, "/api/auth/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	accounts.AssertExpectations(t)
}

func TestSetupProfileNameRequired(t *testing.T) {
	accounts := new(mocks.AccountsMock)
	router := setupAuthRouter(NewAuthHandler(new(mocks.SessionsMock), accounts, new(mocks.PresenceMock)))
	accounts.On("SetupProfile", mock.Anything, "u1", "", "", "").Return(nil, apperr.Validation("Name is required")).Once()

	rec := do(router, http.MethodPost, "/api/auth/setup-profile", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Name is required", decode(t, rec)["message"])
}

func TestLogoutMarksOffline(t *testing.T) {
	presence := new(mocks.PresenceMock)
	router := setupAuthRouter(NewAuthHandler(new(mocks.SessionsMock), new(mocks.AccountsMock), presence))
	presence.On("ForceOffline", mock.Anything, "u1").Return(nil).Once()

	rec := do(router, http.MethodPost, "/api/auth/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	presence.AssertExpectations(t)
}

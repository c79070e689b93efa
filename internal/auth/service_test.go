package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letschat/internal/apperr"
	"letschat/internal/db/dbtest"
	"letschat/internal/models"
	"letschat/internal/repositories"
)

type stubVerifier map[string]Identity

func (s stubVerifier) VerifyIDToken(ctx context.Context, idToken string) (Identity, error) {
	id, ok := s[idToken]
	if !ok {
		return Identity{}, errors.New("token rejected")
	}
	return id, nil
}

func newService(t *testing.T) (*Service, *repositories.UserRepo, *Tokens) {
	users := repositories.NewUserRepo(dbtest.Open(t))
	tokens := NewTokens("secret", time.Hour)
	verifier := stubVerifier{
		"phone":      {UID: "1", PhoneNumber: "+15550001"},
		"email":      {UID: "2", Email: "a@example.com", EmailVerified: true},
		"unverified": {UID: "3", Email: "b@example.com"},
		"empty":      {UID: "4"},
	}
	return NewService(verifier, users, tokens), users, tokens
}

func TestExchangeCreatesUser(t *testing.T) {
	svc, _, tokens := newService(t)

	session, err := svc.Exchange(context.Background(), "phone")
	require.NoError(t, err)
	assert.True(t, session.IsNewUser)
	assert.Equal(t, "+15550001", session.User.PhoneNumber)
	assert.True(t, session.User.IsVerified)
	assert.Equal(t, models.DefaultAbout, session.User.About)

	userID, err := tokens.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, userID)
}

func TestExchangeReusesExistingUser(t *testing.T) {
	svc, users, _ := newService(t)
	ctx := context.Background()
	existing, err := users.CreateUser(ctx, models.User{Name: "Alice", Email: "a@example.com"})
	require.NoError(t, err)

	session, err := svc.Exchange(ctx, "email")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, session.User.ID)
	assert.False(t, session.IsNewUser)
	assert.True(t, session.User.IsOnline)
}

func TestExchangeFailures(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Exchange(ctx, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Exchange(ctx, "forged")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = svc.Exchange(ctx, "unverified")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = svc.Exchange(ctx, "empty")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestExchangeWithoutVerifier(t *testing.T) {
	svc := NewService(nil, repositories.NewUserRepo(dbtest.Open(t)), NewTokens("s", time.Hour))

	_, err := svc.Exchange(context.Background(), "anything")
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
}

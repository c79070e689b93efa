package auth

import (
	"context"
	"errors"

	"letschat/internal/apperr"
	"letschat/internal/logging"
	"letschat/internal/models"
	"letschat/internal/repositories"
)

// Session is the outcome of a successful token exchange.
type Session struct {
	Token     string
	User      models.User
	IsNewUser bool
}

// Service exchanges identity-provider tokens for session tokens.
type Service struct {
	verifier IdentityVerifier
	users    repositories.UserRepository
	tokens   *Tokens
}

func NewService(verifier IdentityVerifier, users repositories.UserRepository, tokens *Tokens) *Service {
	return &Service{verifier: verifier, users: users, tokens: tokens}
}

// Exchange verifies idToken, finds or creates the matching user by email
// then phone, marks it verified and online, and issues a session token.
func (s *Service) Exchange(ctx context.Context, idToken string) (Session, error) {
	log := logging.New("auth.Exchange")
	if idToken == "" {
		return Session{}, apperr.Validation("Firebase ID token is required")
	}
	if s.verifier == nil {
		return Session{}, apperr.Unavailable(errors.New("identity verifier not configured"), "identity verification unavailable")
	}
	identity, err := s.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		log.WithError(err).Info("id token rejected")
		return Session{}, apperr.Unauthorized("Invalid or expired token")
	}
	if identity.Email == "" && identity.PhoneNumber == "" {
		return Session{}, apperr.Validation("No phone or email present in token")
	}
	if identity.Email != "" && !identity.EmailVerified {
		return Session{}, apperr.Unauthorized("Email not verified")
	}

	user, err := s.users.FindByIdentity(ctx, identity.Email, identity.PhoneNumber)
	switch {
	case errors.Is(err, repositories.ErrUserNotFound):
		user, err = s.users.CreateUser(ctx, models.User{
			Email:       identity.Email,
			PhoneNumber: identity.PhoneNumber,
			IsVerified:  true,
			IsOnline:    true,
		})
		if err != nil {
			return Session{}, apperr.Unavailable(err, "create user")
		}
	case err != nil:
		return Session{}, apperr.Unavailable(err, "find user")
	default:
		user, err = s.users.MarkVerified(ctx, user.ID, identity.Email, identity.PhoneNumber)
		if err != nil {
			return Session{}, apperr.Unavailable(err, "update user")
		}
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, apperr.Unavailable(err, "issue token")
	}
	return Session{Token: token, User: user, IsNewUser: user.Name == ""}, nil
}

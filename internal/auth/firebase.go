package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"github.com/spf13/cast"
	"google.golang.org/api/option"
)

// Identity is what a verified identity-provider token asserts.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	PhoneNumber   string
}

// IdentityVerifier validates identity-provider ID tokens.
type IdentityVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (Identity, error)
}

// FirebaseVerifier checks Firebase ID tokens with the Admin SDK.
type FirebaseVerifier struct {
	client *fbauth.Client
}

// NewFirebaseVerifier initialises the Firebase app. An empty credentials
// path falls back to application default credentials.
func NewFirebaseVerifier(ctx context.Context, credentialsFile, projectID string) (*FirebaseVerifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firebase app with credentials %q: %w", credentialsFile, err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (f *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (Identity, error) {
	token, err := f.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return Identity{}, err
	}
	return identityFromClaims(token.UID, token.Claims), nil
}

func identityFromClaims(uid string, claims map[string]interface{}) Identity {
	return Identity{
		UID:           uid,
		Email:         cast.ToString(claims["email"]),
		EmailVerified: cast.ToBool(claims["email_verified"]),
		PhoneNumber:   cast.ToString(claims["phone_number"]),
	}
}

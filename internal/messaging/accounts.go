package messaging

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"letschat/internal/apperr"
	"letschat/internal/models"
	"letschat/internal/repositories"
	"letschat/internal/telemetry"
)

const defaultSearchLimit = 20

var pinPattern = regexp.MustCompile(`^\d{4}$`)

// Block stops messages in both directions between userID and peerID.
func (e *Engine) Block(ctx context.Context, userID, peerID string) error {
	if err := e.checkPeer(ctx, userID, peerID); err != nil {
		return err
	}
	if err := e.users.BlockUser(ctx, userID, peerID); err != nil {
		return apperr.Unavailable(err, "block user")
	}
	e.emit(ctx, telemetry.Entry{
		Level:  telemetry.LevelWarn,
		Action: "user.block",
		Text:   "user blocked a peer",
		UserID: userID,
		Fields: map[string]string{"peer_id": peerID},
	})
	return nil
}

// Unblock lifts a block set by userID. Unblocking a peer that was never
// blocked is a no-op.
func (e *Engine) Unblock(ctx context.Context, userID, peerID string) error {
	if err := e.checkPeer(ctx, userID, peerID); err != nil {
		return err
	}
	if err := e.users.UnblockUser(ctx, userID, peerID); err != nil {
		return apperr.Unavailable(err, "unblock user")
	}
	return nil
}

// SetPin sets or changes the 4-digit PIN guarding hidden conversations.
// Changing an existing PIN requires the current one.
func (e *Engine) SetPin(ctx context.Context, userID, pin, currentPin string) error {
	if !pinPattern.MatchString(pin) {
		return apperr.Validation("PIN must be 4 digits")
	}
	user, err := e.loadUser(ctx, userID, "User")
	if err != nil {
		return err
	}
	if user.Hidden.PinHash != "" {
		if err := e.checkPin(user, currentPin); err != nil {
			return err
		}
	}
	return e.storePin(ctx, userID, pin)
}

// VerifyPin checks pin against the stored hash.
func (e *Engine) VerifyPin(ctx context.Context, userID, pin string) error {
	user, err := e.loadUser(ctx, userID, "User")
	if err != nil {
		return err
	}
	return e.checkPin(user, pin)
}

// Hide moves peerID's conversation behind the PIN. The first hide sets
// the PIN.
func (e *Engine) Hide(ctx context.Context, userID, peerID, pin string) error {
	if err := e.checkPeer(ctx, userID, peerID); err != nil {
		return err
	}
	user, err := e.loadUser(ctx, userID, "User")
	if err != nil {
		return err
	}
	if user.Hidden.PinHash == "" {
		if !pinPattern.MatchString(pin) {
			return apperr.Validation("PIN must be 4 digits")
		}
		if err := e.storePin(ctx, userID, pin); err != nil {
			return err
		}
	} else if err := e.checkPin(user, pin); err != nil {
		return err
	}
	if err := e.users.HidePeer(ctx, userID, peerID); err != nil {
		return apperr.Unavailable(err, "hide conversation")
	}
	e.emit(ctx, telemetry.Entry{
		Action: "conversation.hide",
		Text:   "conversation hidden",
		UserID: userID,
		Fields: map[string]string{"peer_id": peerID},
	})
	return nil
}

// Unhide returns peerID's conversation to the normal list.
func (e *Engine) Unhide(ctx context.Context, userID, peerID, pin string) error {
	if peerID == "" {
		return apperr.Validation("peerId is required")
	}
	user, err := e.loadUser(ctx, userID, "User")
	if err != nil {
		return err
	}
	if err := e.checkPin(user, pin); err != nil {
		return err
	}
	if err := e.users.UnhidePeer(ctx, userID, peerID); err != nil {
		return apperr.Unavailable(err, "unhide conversation")
	}
	return nil
}

// SearchUsers finds verified users by name, email or phone, excluding the
// caller.
func (e *Engine) SearchUsers(ctx context.Context, viewerID, query string) ([]models.PublicProfile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("Search query is required")
	}
	users, err := e.users.SearchUsers(ctx, viewerID, query, defaultSearchLimit)
	if err != nil {
		return nil, apperr.Unavailable(err, "search users")
	}
	out := make([]models.PublicProfile, 0, len(users))
	for _, u := range users {
		out = append(out, u.Profile())
	}
	return out, nil
}

// SetupProfile updates name, about and avatar. Empty about and avatar keep
// their current values.
func (e *Engine) SetupProfile(ctx context.Context, userID, name, about, avatar string) (models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.User{}, apperr.Validation("Name is required")
	}
	user, err := e.users.UpdateProfile(ctx, userID, name, strings.TrimSpace(about), avatar)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return models.User{}, apperr.NotFound("User not found")
		}
		return models.User{}, apperr.Unavailable(err, "update profile")
	}
	e.profiles.Delete(userID)
	return user, nil
}

// Me returns the caller's own record.
func (e *Engine) Me(ctx context.Context, userID string) (models.User, error) {
	return e.loadUser(ctx, userID, "User")
}

// Presence reads the stored presence of ids.
func (e *Engine) Presence(ctx context.Context, ids []string) ([]models.Presence, error) {
	if len(ids) == 0 {
		return []models.Presence{}, nil
	}
	users, err := e.users.GetUsers(ctx, ids)
	if err != nil {
		return nil, apperr.Unavailable(err, "load presence")
	}
	out := make([]models.Presence, 0, len(users))
	for _, u := range users {
		out = append(out, models.Presence{UserID: u.ID, IsOnline: u.IsOnline, LastSeen: u.LastSeen})
	}
	return out, nil
}

func (e *Engine) checkPeer(ctx context.Context, userID, peerID string) error {
	if peerID == "" {
		return apperr.Validation("peerId is required")
	}
	if peerID == userID {
		return apperr.Validation("Cannot target yourself")
	}
	_, err := e.loadUser(ctx, peerID, "User")
	return err
}

func (e *Engine) checkPin(user models.User, pin string) error {
	if user.Hidden.PinHash == "" || pin == "" {
		return apperr.Permission("Invalid PIN")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Hidden.PinHash), []byte(pin)); err != nil {
		return apperr.Permission("Invalid PIN")
	}
	return nil
}

func (e *Engine) storePin(ctx context.Context, userID, pin string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), e.bcryptCost)
	if err != nil {
		return apperr.Unavailable(err, "hash pin")
	}
	if err := e.users.SetPinHash(ctx, userID, string(hash)); err != nil {
		return apperr.Unavailable(err, "store pin")
	}
	return nil
}

package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"letschat/internal/auth"
	"letschat/internal/messaging"
	"letschat/internal/models"
)

type MessengerMock struct {
	mock.Mock
}

func (m *MessengerMock) Send(ctx context.Context, in messaging.SendInput) (models.Message, error) {
	args := m.Called(ctx, in)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessengerMock) MarkRead(ctx context.Context, readerID, peerID string) (int64, error) {
	args := m.Called(ctx, readerID, peerID)
	return int64(args.Int(0)), args.Error(1)
}

func (m *MessengerMock) ListMessages(ctx context.Context, viewerID, peerID string, page, limit int, pin string) (messaging.MessagePage, error) {
	args := m.Called(ctx, viewerID, peerID, page, limit, pin)
	var result messaging.MessagePage
	if val := args.Get(0); val != nil {
		result = val.(messaging.MessagePage)
	}
	return result, args.Error(1)
}

func (m *MessengerMock) React(ctx context.Context, messageID, userID, emoji string) error {
	return m.Called(ctx, messageID, userID, emoji).Error(0)
}

func (m *MessengerMock) Unreact(ctx context.Context, messageID, userID string) error {
	return m.Called(ctx, messageID, userID).Error(0)
}

func (m *MessengerMock) DeleteMessage(ctx context.Context, messageID, userID, scope string) error {
	return m.Called(ctx, messageID, userID, scope).Error(0)
}

func (m *MessengerMock) DeleteConversation(ctx context.Context, viewerID, peerID, scope string) error {
	return m.Called(ctx, viewerID, peerID, scope).Error(0)
}

func (m *MessengerMock) Block(ctx context.Context, userID, peerID string) error {
	return m.Called(ctx, userID, peerID).Error(0)
}

func (m *MessengerMock) Unblock(ctx context.Context, userID, peerID string) error {
	return m.Called(ctx, userID, peerID).Error(0)
}

func (m *MessengerMock) SetPin(ctx context.Context, userID, pin, currentPin string) error {
	return m.Called(ctx, userID, pin, currentPin).Error(0)
}

func (m *MessengerMock) VerifyPin(ctx context.Context, userID, pin string) error {
	return m.Called(ctx, userID, pin).Error(0)
}

func (m *MessengerMock) Hide(ctx context.Context, userID, peerID, pin string) error {
	return m.Called(ctx, userID, peerID, pin).Error(0)
}

func (m *MessengerMock) Unhide(ctx context.Context, userID, peerID, pin string) error {
	return m.Called(ctx, userID, peerID, pin).Error(0)
}

func (m *MessengerMock) SearchUsers(ctx context.Context, viewerID, query string) ([]models.PublicProfile, error) {
	args := m.Called(ctx, viewerID, query)
	var users []models.PublicProfile
	if val := args.Get(0); val != nil {
		users = val.([]models.PublicProfile)
	}
	return users, args.Error(1)
}

func (m *MessengerMock) Presence(ctx context.Context, ids []string) ([]models.Presence, error) {
	args := m.Called(ctx, ids)
	var list []models.Presence
	if val := args.Get(0); val != nil {
		list = val.([]models.Presence)
	}
	return list, args.Error(1)
}

type ConversationsMock struct {
	mock.Mock
}

func (m *ConversationsMock) List(ctx context.Context, viewerID string) ([]models.Conversation, error) {
	args := m.Called(ctx, viewerID)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

func (m *ConversationsMock) ListHidden(ctx context.Context, viewerID, pin string) ([]models.Conversation, error) {
	args := m.Called(ctx, viewerID, pin)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

type SessionsMock struct {
	mock.Mock
}

func (m *SessionsMock) Exchange(ctx context.Context, idToken string) (auth.Session, error) {
	args := m.Called(ctx, idToken)
	var session auth.Session
	if val := args.Get(0); val != nil {
		session = val.(auth.Session)
	}
	return session, args.Error(1)
}

type AccountsMock struct {
	mock.Mock
}

func (m *AccountsMock) SetupProfile(ctx context.Context, userID, name, about, avatar string) (models.User, error) {
	args := m.Called(ctx, userID, name, about, avatar)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *AccountsMock) Me(ctx context.Context, userID string) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

type PresenceMock struct {
	mock.Mock
}

func (m *PresenceMock) ForceOffline(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *PresenceMock) Overlay(ctx context.Context, stored []models.Presence) []models.Presence {
	args := m.Called(ctx, stored)
	if val := args.Get(0); val != nil {
		return val.([]models.Presence)
	}
	return nil
}

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) Save(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	args := m.Called(ctx, key, contentType, body)
	return args.String(0), args.Error(1)
}

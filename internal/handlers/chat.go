package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"letschat/internal/messaging"
	"letschat/internal/models"
)

// Messenger is the message lifecycle and account control surface.
type Messenger interface {
	Send(ctx context.Context, in messaging.SendInput) (models.Message, error)
	MarkRead(ctx context.Context, readerID, peerID string) (int64, error)
	ListMessages(ctx context.Context, viewerID, peerID string, page, limit int, pin string) (messaging.MessagePage, error)
	React(ctx context.Context, messageID, userID, emoji string) error
	Unreact(ctx context.Context, messageID, userID string) error
	DeleteMessage(ctx context.Context, messageID, userID, scope string) error
	DeleteConversation(ctx context.Context, viewerID, peerID, scope string) error
	Block(ctx context.Context, userID, peerID string) error
	Unblock(ctx context.Context, userID, peerID string) error
	SetPin(ctx context.Context, userID, pin, currentPin string) error
	VerifyPin(ctx context.Context, userID, pin string) error
	Hide(ctx context.Context, userID, peerID, pin string) error
	Unhide(ctx context.Context, userID, peerID, pin string) error
	SearchUsers(ctx context.Context, viewerID, query string) ([]models.PublicProfile, error)
	Presence(ctx context.Context, ids []string) ([]models.Presence, error)
}

// ConversationLister builds a viewer's conversation lists.
type ConversationLister interface {
	List(ctx context.Context, viewerID string) ([]models.Conversation, error)
	ListHidden(ctx context.Context, viewerID, pin string) ([]models.Conversation, error)
}

// PresenceOverlay merges live connection state over stored presence.
type PresenceOverlay interface {
	Overlay(ctx context.Context, stored []models.Presence) []models.Presence
}

// ChatHandler manages direct message endpoints.
type ChatHandler struct {
	messenger     Messenger
	conversations ConversationLister
	presence      PresenceOverlay
}

// NewChatHandler builds a ChatHandler. presence may be nil.
func NewChatHandler(messenger Messenger, conversations ConversationLister, presence PresenceOverlay) *ChatHandler {
	return &ChatHandler{messenger: messenger, conversations: conversations, presence: presence}
}

// Register mounts the chat routes on group.
func (h *ChatHandler) Register(group *gin.RouterGroup) {
	group.GET("/conversations", h.ListConversations)
	group.GET("/hidden", h.ListHidden)
	group.GET("/messages/:userId", h.ListMessages)
	group.POST("/send", h.Send)
	group.POST("/read/:userId", h.MarkRead)
	group.GET("/search-users", h.SearchUsers)
	group.GET("/presence", h.Presence)
	group.POST("/block", h.Block)
	group.POST("/unblock", h.Unblock)
	group.POST("/pin", h.SetPin)
	group.POST("/verify-pin", h.VerifyPin)
	group.POST("/hide", h.Hide)
	group.POST("/unhide", h.Unhide)
	group.DELETE("/conversation/:userId", h.DeleteConversation)
	group.POST("/:messageId/react", h.React)
	group.DELETE("/:messageId/react", h.Unreact)
	group.DELETE("/:messageId", h.DeleteMessage)
}

// ListConversations returns the caller's normal conversations.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	convs, err := h.conversations.List(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, "ChatHandler.ListConversations", err)
		return
	}
	ok(c, gin.H{"conversations": convs})
}

// ListHidden returns the PIN-gated conversations.
func (h *ChatHandler) ListHidden(c *gin.Context) {
	convs, err := h.conversations.ListHidden(c.Request.Context(), currentUser(c), c.Query("pin"))
	if err != nil {
		fail(c, "ChatHandler.ListHidden", err)
		return
	}
	ok(c, gin.H{"conversations": convs})
}

// ListMessages returns one page of a conversation and marks it read.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	page := cast.ToInt(c.DefaultQuery("page", "1"))
	limit := cast.ToInt(c.DefaultQuery("limit", "50"))

	result, err := h.messenger.ListMessages(c.Request.Context(), currentUser(c), c.Param("userId"), page, limit, c.Query("pin"))
	if err != nil {
		fail(c, "ChatHandler.ListMessages", err)
		return
	}
	ok(c, gin.H{"messages": result.Messages, "pagination": result.Page})
}

// Send stores a message and pushes it to the recipient.
func (h *ChatHandler) Send(c *gin.Context) {
	var req struct {
		RecipientID string `json:"recipientId"`
		Content     string `json:"content"`
		MessageType string `json:"messageType"`
		FileURL     string `json:"fileUrl"`
		FileName    string `json:"fileName"`
		ReplyTo     string `json:"replyTo"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	msg, err := h.messenger.Send(c.Request.Context(), messaging.SendInput{
		SenderID:    currentUser(c),
		RecipientID: req.RecipientID,
		Content:     req.Content,
		Type:        models.MessageType(req.MessageType),
		FileURL:     req.FileURL,
		FileName:    req.FileName,
		ReplyTo:     req.ReplyTo,
	})
	if err != nil {
		fail(c, "ChatHandler.Send", err)
		return
	}
	ok(c, gin.H{"message": "Message sent successfully", "data": msg})
}

// MarkRead marks the peer's messages to the caller read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	n, err := h.messenger.MarkRead(c.Request.Context(), currentUser(c), c.Param("userId"))
	if err != nil {
		fail(c, "ChatHandler.MarkRead", err)
		return
	}
	ok(c, gin.H{"updated": n})
}

// React sets the caller's reaction on a message.
func (h *ChatHandler) React(c *gin.Context) {
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Emoji is required")
		return
	}
	if err := h.messenger.React(c.Request.Context(), c.Param("messageId"), currentUser(c), req.Emoji); err != nil {
		fail(c, "ChatHandler.React", err)
		return
	}
	ok(c, gin.H{"message": "Reaction added successfully"})
}

// Unreact removes the caller's reaction.
func (h *ChatHandler) Unreact(c *gin.Context) {
	if err := h.messenger.Unreact(c.Request.Context(), c.Param("messageId"), currentUser(c)); err != nil {
		fail(c, "ChatHandler.Unreact", err)
		return
	}
	ok(c, gin.H{"message": "Reaction removed successfully"})
}

// DeleteMessage deletes for the caller or, for the sender, for everyone.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	scope := c.DefaultQuery("deleteFor", messaging.ScopeMe)
	if err := h.messenger.DeleteMessage(c.Request.Context(), c.Param("messageId"), currentUser(c), scope); err != nil {
		fail(c, "ChatHandler.DeleteMessage", err)
		return
	}
	ok(c, gin.H{"message": "Message deleted successfully"})
}

// DeleteConversation deletes a whole thread for the caller or both sides.
func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	scope := c.DefaultQuery("for", messaging.ScopeMe)
	if err := h.messenger.DeleteConversation(c.Request.Context(), currentUser(c), c.Param("userId"), scope); err != nil {
		fail(c, "ChatHandler.DeleteConversation", err)
		return
	}
	text := "Conversation deleted for you"
	if scope == messaging.ScopeEveryone {
		text = "Conversation deleted for everyone"
	}
	ok(c, gin.H{"message": text})
}

// SearchUsers finds other verified users.
func (h *ChatHandler) SearchUsers(c *gin.Context) {
	users, err := h.messenger.SearchUsers(c.Request.Context(), currentUser(c), c.Query("q"))
	if err != nil {
		fail(c, "ChatHandler.SearchUsers", err)
		return
	}
	ok(c, gin.H{"users": users})
}

// Presence returns stored presence overlaid with live connection state.
func (h *ChatHandler) Presence(c *gin.Context) {
	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	stored, err := h.messenger.Presence(c.Request.Context(), ids)
	if err != nil {
		fail(c, "ChatHandler.Presence", err)
		return
	}
	if h.presence != nil {
		stored = h.presence.Overlay(c.Request.Context(), stored)
	}
	ok(c, gin.H{"presence": stored})
}

type peerRequest struct {
	PeerID string `json:"peerId"`
	Pin    string `json:"pin"`
}

func (h *ChatHandler) bindPeer(c *gin.Context, needPin bool) (peerRequest, bool) {
	var req peerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PeerID == "" {
		badRequest(c, "peerId required")
		return req, false
	}
	if needPin && req.Pin == "" {
		badRequest(c, "peerId and pin required")
		return req, false
	}
	return req, true
}

// Block blocks a peer.
func (h *ChatHandler) Block(c *gin.Context) {
	req, valid := h.bindPeer(c, false)
	if !valid {
		return
	}
	if err := h.messenger.Block(c.Request.Context(), currentUser(c), req.PeerID); err != nil {
		fail(c, "ChatHandler.Block", err)
		return
	}
	ok(c, nil)
}

// Unblock lifts a block.
func (h *ChatHandler) Unblock(c *gin.Context) {
	req, valid := h.bindPeer(c, false)
	if !valid {
		return
	}
	if err := h.messenger.Unblock(c.Request.Context(), currentUser(c), req.PeerID); err != nil {
		fail(c, "ChatHandler.Unblock", err)
		return
	}
	ok(c, nil)
}

// Hide moves a conversation behind the PIN.
func (h *ChatHandler) Hide(c *gin.Context) {
	req, valid := h.bindPeer(c, true)
	if !valid {
		return
	}
	if err := h.messenger.Hide(c.Request.Context(), currentUser(c), req.PeerID, req.Pin); err != nil {
		fail(c, "ChatHandler.Hide", err)
		return
	}
	ok(c, nil)
}

// Unhide restores a hidden conversation.
func (h *ChatHandler) Unhide(c *gin.Context) {
	req, valid := h.bindPeer(c, true)
	if !valid {
		return
	}
	if err := h.messenger.Unhide(c.Request.Context(), currentUser(c), req.PeerID, req.Pin); err != nil {
		fail(c, "ChatHandler.Unhide", err)
		return
	}
	ok(c, nil)
}

// SetPin sets or changes the caller's PIN.
func (h *ChatHandler) SetPin(c *gin.Context) {
	var req struct {
		Pin        string `json:"pin"`
		CurrentPin string `json:"currentPin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "pin required")
		return
	}
	if err := h.messenger.SetPin(c.Request.Context(), currentUser(c), req.Pin, req.CurrentPin); err != nil {
		fail(c, "ChatHandler.SetPin", err)
		return
	}
	ok(c, nil)
}

// VerifyPin checks the caller's PIN.
func (h *ChatHandler) VerifyPin(c *gin.Context) {
	var req struct {
		Pin string `json:"pin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "pin required")
		return
	}
	if err := h.messenger.VerifyPin(c.Request.Context(), currentUser(c), req.Pin); err != nil {
		fail(c, "ChatHandler.VerifyPin", err)
		return
	}
	ok(c, nil)
}

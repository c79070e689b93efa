// Package client is a Go SDK for the chat API: a REST client, a push
// channel with reconnect, and a Session that reconciles both into a local
// view of conversations.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"letschat/internal/models"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// API calls the REST endpoints with a bearer token.
type API struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPI builds an API for baseURL (for example http://localhost:5000).
func NewAPI(baseURL, token string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// SendRequest is the body of POST /api/chat/send.
type SendRequest struct {
	RecipientID string             `json:"recipientId"`
	Content     string             `json:"content"`
	MessageType models.MessageType `json:"messageType,omitempty"`
	FileURL     string             `json:"fileUrl,omitempty"`
	FileName    string             `json:"fileName,omitempty"`
	ReplyTo     string             `json:"replyTo,omitempty"`
}

// Send posts a message and returns the stored record.
func (a *API) Send(ctx context.Context, req SendRequest) (models.Message, error) {
	var resp struct {
		Data models.Message `json:"data"`
	}
	err := a.do(ctx, http.MethodPost, "/api/chat/send", req, &resp)
	return resp.Data, err
}

// Messages fetches one page of the conversation with peerID.
func (a *API) Messages(ctx context.Context, peerID string, page, limit int, pin string) ([]models.Message, models.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	if pin != "" {
		q.Set("pin", pin)
	}
	var resp struct {
		Messages   []models.Message `json:"messages"`
		Pagination models.Page      `json:"pagination"`
	}
	err := a.do(ctx, http.MethodGet, "/api/chat/messages/"+url.PathEscape(peerID)+"?"+q.Encode(), nil, &resp)
	return resp.Messages, resp.Pagination, err
}

// Conversations lists the caller's normal conversations.
func (a *API) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	err := a.do(ctx, http.MethodGet, "/api/chat/conversations", nil, &resp)
	return resp.Conversations, err
}

// MarkRead marks peerID's messages read.
func (a *API) MarkRead(ctx context.Context, peerID string) error {
	return a.do(ctx, http.MethodPost, "/api/chat/read/"+url.PathEscape(peerID), nil, nil)
}

// Presence fetches the presence of ids.
func (a *API) Presence(ctx context.Context, ids []string) ([]models.Presence, error) {
	var resp struct {
		Presence []models.Presence `json:"presence"`
	}
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	err := a.do(ctx, http.MethodGet, "/api/chat/presence?"+q.Encode(), nil, &resp)
	return resp.Presence, err
}

// React sets the caller's reaction on a message.
func (a *API) React(ctx context.Context, messageID, emoji string) error {
	return a.do(ctx, http.MethodPost, "/api/chat/"+url.PathEscape(messageID)+"/react", map[string]string{"emoji": emoji}, nil)
}

// DeleteMessage deletes for "me" or "everyone".
func (a *API) DeleteMessage(ctx context.Context, messageID, scope string) error {
	return a.do(ctx, http.MethodDelete, "/api/chat/"+url.PathEscape(messageID)+"?deleteFor="+url.QueryEscape(scope), nil, nil)
}

func (a *API) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	res, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		var failure struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(res.Body).Decode(&failure)
		return &APIError{Status: res.StatusCode, Message: failure.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// Package storage persists uploaded chat attachments.
package storage

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"letschat/internal/config"
	"letschat/internal/models"
)

// File describes a stored attachment.
type File struct {
	URL      string             `json:"url"`
	FileName string             `json:"fileName"`
	MimeType string             `json:"mimeType"`
	Size     int64              `json:"size"`
	Type     models.MessageType `json:"messageType"`
}

// Store saves attachment bodies and returns their public location.
type Store interface {
	Save(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// ObjectKey builds a collision-resistant key from the original file name.
func ObjectKey(now time.Time, original string) string {
	name := unsafeChars.ReplaceAllString(original, "_")
	if name == "" {
		name = "file"
	}
	return fmt.Sprintf("%d-%s", now.UnixMilli(), name)
}

// KindOf maps a MIME type to the message type used when sending it.
func KindOf(contentType string) models.MessageType {
	if strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return models.MessageImage
	}
	return models.MessageDocument
}

// New builds the Store selected by conf.
func New(conf config.Storage) (Store, error) {
	switch conf.Backend {
	case "", "local":
		return NewLocal(conf.LocalDir, conf.PublicBaseURL)
	case "s3":
		return NewS3(conf.S3Region, conf.S3Bucket, conf.S3Prefix)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", conf.Backend)
	}
}

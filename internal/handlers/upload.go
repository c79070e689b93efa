package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"letschat/internal/apperr"
	"letschat/internal/storage"
)

// UploadHandler accepts chat attachments.
type UploadHandler struct {
	store   storage.Store
	maxSize int64
	now     func() time.Time
}

// NewUploadHandler builds an UploadHandler. maxSize <= 0 disables the limit.
func NewUploadHandler(store storage.Store, maxSize int64) *UploadHandler {
	return &UploadHandler{store: store, maxSize: maxSize, now: time.Now}
}

// Upload stores the multipart "file" field and returns its public URL.
func (h *UploadHandler) Upload(c *gin.Context) {
	if h.maxSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize)
	}
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "No file uploaded")
		return
	}

	f, err := header.Open()
	if err != nil {
		fail(c, "UploadHandler.Upload", err)
		return
	}
	defer f.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := storage.ObjectKey(h.now(), header.Filename)
	url, err := h.store.Save(c.Request.Context(), key, contentType, f)
	if err != nil {
		fail(c, "UploadHandler.Upload", apperr.Unavailable(err, "store upload"))
		return
	}

	ok(c, gin.H{"file": storage.File{
		URL:      url,
		FileName: header.Filename,
		MimeType: contentType,
		Size:     header.Size,
		Type:     storage.KindOf(contentType),
	}})
}

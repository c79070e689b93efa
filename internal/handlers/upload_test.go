package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"letschat/internal/mocks"
)

func setupUploadRouter(handler *UploadHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/chat/upload", handler.Upload)
	return r
}

func multipartBody(t *testing.T, name, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestUploadStoresFile(t *testing.T) {
	store := new(mocks.StoreMock)
	handler := NewUploadHandler(store, 1<<20)
	handler.now = func() time.Time { return time.UnixMilli(1700000000000) }
	router := setupUploadRouter(handler)

	store.On("Save", mock.Anything, "1700000000000-cat_pic.png", "image/png", mock.Anything).
		Return("http://localhost:5000/uploads/1700000000000-cat_pic.png", nil).Once()

	body, contentType := multipartBody(t, "cat pic.png", "image/png", "PNGDATA")
	req := httptest.NewRequest(http.MethodPost, "/api/chat/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	file := decode(t, rec)["file"].(map[string]any)
	assert.Equal(t, "http://localhost:5000/uploads/1700000000000-cat_pic.png", file["url"])
	assert.Equal(t, "cat pic.png", file["fileName"])
	assert.Equal(t, "image", file["messageType"])
	assert.EqualValues(t, 7, file["size"])
	store.AssertExpectations(t)
}

func TestUploadWithoutFile(t *testing.T) {
	router := setupUploadRouter(NewUploadHandler(new(mocks.StoreMock), 0))

	rec := do(router, http.MethodPost, "/api/chat/upload", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file uploaded", decode(t, rec)["message"])
}

func TestUploadStoreFailure(t *testing.T) {
	store := new(mocks.StoreMock)
	router := setupUploadRouter(NewUploadHandler(store, 0))
	store.On("Save", mock.Anything, mock.Anything, "application/pdf", mock.Anything).Return("", assert.AnError).Once()

	body, contentType := multipartBody(t, "doc.pdf", "application/pdf", "%PDF")
	req := httptest.NewRequest(http.MethodPost, "/api/chat/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letschat/internal/config"
	"letschat/internal/models"
)

func TestObjectKeySanitizes(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Equal(t, "1700000000123-my_photo__1_.png", ObjectKey(now, "my photo (1).png"))
	assert.Equal(t, "1700000000123-.._.._etc_passwd", ObjectKey(now, "../../etc/passwd"))
	assert.Equal(t, "1700000000123-file", ObjectKey(now, ""))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, models.MessageImage, KindOf("image/png"))
	assert.Equal(t, models.MessageImage, KindOf("IMAGE/JPEG"))
	assert.Equal(t, models.MessageDocument, KindOf("application/pdf"))
	assert.Equal(t, models.MessageDocument, KindOf(""))
}

func TestLocalSave(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(filepath.Join(dir, "uploads"), "http://localhost:5000/uploads/")
	require.NoError(t, err)

	url, err := store.Save(context.Background(), "1-notes.txt", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000/uploads/1-notes.txt", url)

	body, err := os.ReadFile(filepath.Join(store.Dir(), "1-notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	_, err = store.Save(context.Background(), "1-notes.txt", "text/plain", strings.NewReader("again"))
	assert.Error(t, err)
}

func TestNewSelectsBackend(t *testing.T) {
	store, err := New(config.Storage{Backend: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, store)

	_, err = New(config.Storage{Backend: "ftp"})
	assert.Error(t, err)
}

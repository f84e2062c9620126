package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-worker/internal/common"
)

func TestObjectKey(t *testing.T) {
	at := time.Date(2025, 3, 15, 18, 42, 7, 0, time.UTC)
	assert.Equal(t, "lidl/2025/03/IMG_1.jpg", ObjectKey("lidl", at, "IMG_1.jpg"))
	assert.Equal(t, "lidl/2025/03/IMG_1.jpg.json", ObjectKey("lidl", at, "IMG_1.jpg.json"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("a.json"))
	assert.Equal(t, "application/octet-stream", contentType("a.heic-unknown"))
}

func TestNewS3Archive(t *testing.T) {
	a, err := NewS3Archive(common.ArchiveConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "receipts",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "receipts", a.bucket)
}

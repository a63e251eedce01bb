package video

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/videobox/videobox/internal/database"
)

const (
	uploadURLTTL       = 30 * time.Minute
	defaultPlaybackTTL = time.Hour
	purgeTimeout       = 2 * time.Minute
	deleteAttempts     = 3
)

type ObjectStorage interface {
	GenerateUploadURL(ctx context.Context, key string, contentType string, contentLength int64, expiry time.Duration) (string, error)
	GenerateDownloadURL(ctx context.Context, key string, contentType string, expiry time.Duration) (string, error)
	DeleteObject(ctx context.Context, key string) error
	HeadObject(ctx context.Context, key string) (int64, string, error)
}

type Handler struct {
	db             database.DBTX
	storage        ObjectStorage
	playbackTTL    time.Duration
	maxUploadBytes int64
	purges         sync.WaitGroup
}

func NewHandler(db database.DBTX, s ObjectStorage, maxUploadBytes int64, playbackTTL time.Duration) *Handler {
	if playbackTTL <= 0 {
		playbackTTL = defaultPlaybackTTL
	}
	return &Handler{
		db:             db,
		storage:        s,
		playbackTTL:    playbackTTL,
		maxUploadBytes: maxUploadBytes,
	}
}

// Wait blocks until background object purges started by Delete have finished.
func (h *Handler) Wait() {
	h.purges.Wait()
}

var supportedContentTypes = map[string]string{
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
}

func videoFileKey(userID, objectID, contentType string) string {
	return fmt.Sprintf("recordings/%s/%s%s", userID, objectID, supportedContentTypes[contentType])
}

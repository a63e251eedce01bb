package video

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

func deleteWithRetry(ctx context.Context, storage ObjectStorage, key string, maxAttempts int) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		lastErr = storage.DeleteObject(ctx, key)
		if lastErr == nil {
			return nil
		}
		slog.Error("storage: delete attempt failed", "attempt", attempt+1, "max_attempts", maxAttempts, "key", key, "error", lastErr)
	}
	return fmt.Errorf("all %d delete attempts failed for %s: %w", maxAttempts, key, lastErr)
}

// purgeObject removes a deleted video's object and stamps file_purged_at.
// A failed purge leaves file_purged_at NULL so the cleanup loop retries it.
func (h *Handler) purgeObject(ctx context.Context, fileKey string) {
	if err := deleteWithRetry(ctx, h.storage, fileKey, deleteAttempts); err != nil {
		slog.Error("video: all delete retries failed", "key", fileKey, "error", err)
		return
	}
	if _, err := h.db.Exec(ctx,
		`UPDATE videos SET file_purged_at = now() WHERE file_key = $1`,
		fileKey,
	); err != nil {
		slog.Error("video: failed to mark file_purged_at", "key", fileKey, "error", err)
	}
}

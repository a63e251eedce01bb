package video

import (
	"context"
	"log/slog"
	"time"

	"github.com/videobox/videobox/internal/database"
)

const (
	cleanupBatchSize = 50
	// StaleUploadAge is how long a video may stay in the uploading state
	// before the cleanup loop gives up on it.
	StaleUploadAge = 24 * time.Hour
)

func PurgeOrphanedFiles(ctx context.Context, db database.DBTX, storage ObjectStorage) {
	rows, err := db.Query(ctx,
		`SELECT file_key FROM videos
		 WHERE status = 'deleted' AND file_purged_at IS NULL
		 LIMIT $1`,
		cleanupBatchSize,
	)
	if err != nil {
		slog.Error("cleanup: failed to query orphaned files", "error", err)
		return
	}

	var keys []string
	for rows.Next() {
		var fileKey string
		if err := rows.Scan(&fileKey); err != nil {
			slog.Error("cleanup: failed to scan file key", "error", err)
			continue
		}
		keys = append(keys, fileKey)
	}
	if err := rows.Err(); err != nil {
		slog.Error("cleanup: row iteration error", "error", err)
	}
	rows.Close()

	for _, fileKey := range keys {
		if err := deleteWithRetry(ctx, storage, fileKey, deleteAttempts); err != nil {
			slog.Error("cleanup: failed to delete file", "key", fileKey, "error", err)
			continue
		}
		if _, err := db.Exec(ctx,
			`UPDATE videos SET file_purged_at = now() WHERE file_key = $1`,
			fileKey,
		); err != nil {
			slog.Error("cleanup: failed to mark purged", "key", fileKey, "error", err)
		}
	}
}

// ExpireStaleUploads soft-deletes videos whose upload never completed so the
// next purge removes any partial object.
func ExpireStaleUploads(ctx context.Context, db database.DBTX, olderThan time.Duration) {
	tag, err := db.Exec(ctx,
		`UPDATE videos SET status = 'deleted', updated_at = now()
		 WHERE status = 'uploading' AND created_at < now() - make_interval(secs => $1)`,
		olderThan.Seconds(),
	)
	if err != nil {
		slog.Error("cleanup: failed to expire stale uploads", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Info("cleanup: expired stale uploads", "count", n)
	}
}

func StartCleanupLoop(ctx context.Context, db database.DBTX, storage ObjectStorage, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("cleanup: shutting down")
				return
			case <-ticker.C:
				ExpireStaleUploads(ctx, db, StaleUploadAge)
				PurgeOrphanedFiles(ctx, db, storage)
			}
		}
	}()
}

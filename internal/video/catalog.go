package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/videobox/videobox/internal/database"
	"github.com/videobox/videobox/internal/share"
)

// Catalog exposes ready videos to the share package: metadata from Postgres
// and playback URLs presigned by object storage.
type Catalog struct {
	db          database.DBTX
	storage     ObjectStorage
	playbackTTL time.Duration
	now         func() time.Time
}

var _ share.AssetStore = (*Catalog)(nil)

func NewCatalog(db database.DBTX, s ObjectStorage, playbackTTL time.Duration) *Catalog {
	if playbackTTL <= 0 {
		playbackTTL = defaultPlaybackTTL
	}
	return &Catalog{db: db, storage: s, playbackTTL: playbackTTL, now: time.Now}
}

// GetAsset returns share.ErrAssetNotFound for unknown, deleted and
// not-yet-uploaded videos alike.
func (c *Catalog) GetAsset(ctx context.Context, videoID string) (share.Asset, error) {
	var a share.Asset
	err := c.db.QueryRow(ctx,
		`SELECT v.id, v.user_id, v.file_name, c.name, v.file_key, v.content_type, v.duration
		 FROM videos v
		 JOIN courses c ON c.id = v.course_id
		 WHERE v.id::text = $1 AND v.status = 'ready'`,
		videoID,
	).Scan(&a.VideoID, &a.OwnerID, &a.FileName, &a.CourseName, &a.FileKey, &a.ContentType, &a.Duration)
	if errors.Is(err, pgx.ErrNoRows) {
		return share.Asset{}, share.ErrAssetNotFound
	}
	if err != nil {
		return share.Asset{}, fmt.Errorf("get asset %s: %w", videoID, err)
	}
	return a, nil
}

func (c *Catalog) SignPlaybackURL(ctx context.Context, asset share.Asset) (string, time.Time, error) {
	expiresAt := c.now().Add(c.playbackTTL)
	url, err := c.storage.GenerateDownloadURL(ctx, asset.FileKey, asset.ContentType, c.playbackTTL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign playback url: %w", err)
	}
	return url, expiresAt, nil
}

package share

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/videobox/videobox/internal/database"
)

const tokenConstraint = "video_shares_share_token_key"

type PostgresStore struct {
	db database.DBTX
}

func NewPostgresStore(db database.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, g Grant) (Grant, error) {
	err := s.db.QueryRow(ctx,
		`INSERT INTO video_shares (video_id, shared_by, shared_with, share_token, starts, expires, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		g.VideoID, g.SharedBy, nullableString(g.SharedWith), g.Token, g.Starts, g.Expires, g.CreatedAt,
	).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, tokenConstraint) {
			return Grant{}, ErrDuplicateToken
		}
		return Grant{}, fmt.Errorf("insert share: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) FindByToken(ctx context.Context, token string) (Grant, error) {
	var g Grant
	var sharedWith *string
	err := s.db.QueryRow(ctx,
		`SELECT id, video_id, shared_by, shared_with, share_token, starts, expires, revoked_at, created_at
		 FROM video_shares WHERE share_token = $1`,
		token,
	).Scan(&g.ID, &g.VideoID, &g.SharedBy, &sharedWith, &g.Token, &g.Starts, &g.Expires, &g.RevokedAt, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Grant{}, ErrGrantNotFound
		}
		return Grant{}, fmt.Errorf("select share: %w", err)
	}
	if sharedWith != nil {
		g.SharedWith = *sharedWith
	}
	return g, nil
}

func (s *PostgresStore) ListByVideo(ctx context.Context, videoID string) ([]GrantSummary, error) {
	rows, err := s.db.Query(ctx,
		`SELECT s.id, s.video_id, s.shared_by, s.shared_with, s.share_token, s.starts, s.expires, s.revoked_at, s.created_at,
		        (SELECT COUNT(*) FROM share_views sv WHERE sv.share_id = s.id) AS view_count
		 FROM video_shares s
		 WHERE s.video_id = $1
		 ORDER BY s.created_at DESC`,
		videoID,
	)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	items := make([]GrantSummary, 0)
	for rows.Next() {
		var item GrantSummary
		var sharedWith *string
		if err := rows.Scan(&item.ID, &item.VideoID, &item.SharedBy, &sharedWith, &item.Token,
			&item.Starts, &item.Expires, &item.RevokedAt, &item.CreatedAt, &item.Views); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		if sharedWith != nil {
			item.SharedWith = *sharedWith
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return items, nil
}

// Revoke keeps the first revocation instant when called twice.
func (s *PostgresStore) Revoke(ctx context.Context, token, ownerID string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE video_shares SET revoked_at = COALESCE(revoked_at, $3)
		 WHERE share_token = $1 AND shared_by = $2`,
		token, ownerID, at,
	)
	if err != nil {
		return fmt.Errorf("revoke share: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGrantNotFound
	}
	return nil
}

func (s *PostgresStore) RecordView(ctx context.Context, v View) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO share_views (share_id, viewer_hash, country, browser, os, device)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ShareID, v.ViewerHash, v.Country, v.Browser, v.OS, v.Device,
	)
	if err != nil {
		return fmt.Errorf("insert share view: %w", err)
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

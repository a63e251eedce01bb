// Package share implements time-boxed, token-addressed video share grants:
// the registry that issues and stores them and the evaluator that decides
// whether a presented token currently grants playback.
package share

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/videobox/videobox/internal/identity"
)

var (
	ErrGrantNotFound  = errors.New("share grant not found")
	ErrDuplicateToken = errors.New("share token already exists")
	ErrAssetNotFound  = errors.New("asset not found")
)

const tokenBytes = 16

// Grant is an immutable share record. An empty SharedWith means anyone
// holding the token may watch.
type Grant struct {
	ID         string
	VideoID    string
	SharedBy   string
	SharedWith string
	Token      string
	Starts     *time.Time
	Expires    *time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// check evaluates the grant's lifecycle at now. Time is checked in the order
// starts, expires, revocation.
func (g Grant) check(now time.Time) error {
	if g.Starts != nil && now.Before(*g.Starts) {
		return fail(KindNotYetActive, nil)
	}
	if g.Expires != nil && !now.Before(*g.Expires) {
		return fail(KindExpired, nil)
	}
	if g.RevokedAt != nil && !now.Before(*g.RevokedAt) {
		return fail(KindRevoked, nil)
	}
	return nil
}

// State is the human-readable lifecycle label shown to owners.
func (g Grant) State(now time.Time) string {
	switch KindOf(g.check(now)) {
	case KindNotYetActive:
		return "scheduled"
	case KindExpired:
		return "expired"
	case KindRevoked:
		return "revoked"
	default:
		return "active"
	}
}

type GrantSummary struct {
	Grant
	Views int64
}

type View struct {
	ShareID    string
	ViewerHash string
	Country    string
	Browser    string
	OS         string
	Device     string
}

// Asset is the externally owned video metadata a grant points at.
type Asset struct {
	VideoID     string
	OwnerID     string
	FileName    string
	CourseName  string
	FileKey     string
	ContentType string
	Duration    int
}

type Playback struct {
	Grant        Grant
	Asset        Asset
	URL          string
	URLExpiresAt time.Time
}

type AssetStore interface {
	GetAsset(ctx context.Context, videoID string) (Asset, error)
	SignPlaybackURL(ctx context.Context, asset Asset) (string, time.Time, error)
}

type Directory interface {
	Resolve(ctx context.Context, ref string) (identity.User, error)
}

type Store interface {
	Insert(ctx context.Context, g Grant) (Grant, error)
	FindByToken(ctx context.Context, token string) (Grant, error)
	ListByVideo(ctx context.Context, videoID string) ([]GrantSummary, error)
	Revoke(ctx context.Context, token, ownerID string, at time.Time) error
	RecordView(ctx context.Context, v View) error
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

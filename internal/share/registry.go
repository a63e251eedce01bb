package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/videobox/videobox/internal/identity"
)

const (
	DefaultCallTimeout      = 5 * time.Second
	DefaultMaxIssueAttempts = 3
)

type RegistryConfig struct {
	// AllowOpenShares permits grants without a recipient.
	AllowOpenShares  bool
	CallTimeout      time.Duration
	MaxIssueAttempts int
}

type IssueRequest struct {
	VideoID   string
	IssuerID  string
	Recipient string
	Starts    *time.Time
	Expires   *time.Time
}

type Registry struct {
	store     Store
	assets    AssetStore
	directory Directory
	cfg       RegistryConfig
	now       func() time.Time
	newToken  func() (string, error)
}

func NewRegistry(store Store, assets AssetStore, directory Directory, cfg RegistryConfig) *Registry {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.MaxIssueAttempts <= 0 {
		cfg.MaxIssueAttempts = DefaultMaxIssueAttempts
	}
	return &Registry{
		store:     store,
		assets:    assets,
		directory: directory,
		cfg:       cfg,
		now:       time.Now,
		newToken:  generateToken,
	}
}

// WithNowFunc allows tests to override the time source.
func (r *Registry) WithNowFunc(now func() time.Time) {
	r.now = now
}

func (r *Registry) Issue(ctx context.Context, req IssueRequest) (Grant, error) {
	if err := r.checkOwner(ctx, req.VideoID, req.IssuerID); err != nil {
		return Grant{}, err
	}

	if req.Starts != nil && req.Expires != nil && !req.Starts.Before(*req.Expires) {
		return Grant{}, fail(KindInvalidWindow, fmt.Errorf("starts %s is not before expires %s",
			req.Starts.Format(time.RFC3339), req.Expires.Format(time.RFC3339)))
	}

	sharedWith, err := r.resolveRecipient(ctx, req.Recipient)
	if err != nil {
		return Grant{}, err
	}

	grant := Grant{
		VideoID:    req.VideoID,
		SharedBy:   req.IssuerID,
		SharedWith: sharedWith,
		Starts:     req.Starts,
		Expires:    req.Expires,
	}

	for attempt := 1; attempt <= r.cfg.MaxIssueAttempts; attempt++ {
		token, err := r.newToken()
		if err != nil {
			return Grant{}, fail(KindRegistryUnavailable, err)
		}
		grant.Token = token
		grant.CreatedAt = r.now()

		stored, err := r.insert(ctx, grant)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, ErrDuplicateToken) {
			return Grant{}, upstream(KindRegistryUnavailable, err)
		}
		slog.Warn("share: token collision, regenerating", "attempt", attempt, "video_id", req.VideoID)
	}

	return Grant{}, fail(KindRegistryUnavailable,
		fmt.Errorf("token collision persisted after %d attempts", r.cfg.MaxIssueAttempts))
}

// Find is a pure lookup; it does not evaluate the window or the recipient.
func (r *Registry) Find(ctx context.Context, token string) (Grant, error) {
	if token == "" {
		return Grant{}, fail(KindTokenNotFound, nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	grant, err := r.store.FindByToken(callCtx, token)
	if err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			return Grant{}, fail(KindTokenNotFound, err)
		}
		return Grant{}, upstream(KindRegistryUnavailable, err)
	}
	return grant, nil
}

func (r *Registry) ListForVideo(ctx context.Context, videoID, ownerID string) ([]GrantSummary, error) {
	if err := r.checkOwner(ctx, videoID, ownerID); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	grants, err := r.store.ListByVideo(callCtx, videoID)
	if err != nil {
		return nil, upstream(KindRegistryUnavailable, err)
	}
	return grants, nil
}

// Revoke ends a grant early. Tokens the caller did not issue report
// KindTokenNotFound so that foreign tokens cannot be probed.
func (r *Registry) Revoke(ctx context.Context, token, ownerID string) error {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	err := r.store.Revoke(callCtx, token, ownerID, r.now())
	if err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			return fail(KindTokenNotFound, err)
		}
		return upstream(KindRegistryUnavailable, err)
	}
	return nil
}

func (r *Registry) insert(ctx context.Context, g Grant) (Grant, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	return r.store.Insert(callCtx, g)
}

func (r *Registry) checkOwner(ctx context.Context, videoID, userID string) error {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	asset, err := r.assets.GetAsset(callCtx, videoID)
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			return fail(KindNotOwner, err)
		}
		return upstream(KindUpstreamTimeout, err)
	}
	if asset.OwnerID != userID {
		return fail(KindNotOwner, fmt.Errorf("video %s is not owned by %s", videoID, userID))
	}
	return nil
}

// resolveRecipient returns the canonical recipient: a lower-cased email, or
// empty for an open grant.
func (r *Registry) resolveRecipient(ctx context.Context, recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		if !r.cfg.AllowOpenShares {
			return "", fail(KindInvalidRecipient, errors.New("recipient is required"))
		}
		return "", nil
	}

	if email, ok := identity.NormalizeEmail(recipient); ok {
		return email, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	user, err := r.directory.Resolve(callCtx, recipient)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return "", fail(KindInvalidRecipient, fmt.Errorf("unknown recipient %q", recipient))
		}
		return "", upstream(KindUpstreamTimeout, err)
	}
	return strings.ToLower(user.Email), nil
}

package share

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/videobox/videobox/internal/identity"
)

type EvaluatorConfig struct {
	// RequireRecipientMatch restricts recipient-bound grants to the named recipient.
	RequireRecipientMatch bool
	CallTimeout           time.Duration
}

type Evaluator struct {
	registry  *Registry
	assets    AssetStore
	directory Directory
	cfg       EvaluatorConfig
	now       func() time.Time
}

func NewEvaluator(registry *Registry, assets AssetStore, directory Directory, cfg EvaluatorConfig) *Evaluator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Evaluator{
		registry:  registry,
		assets:    assets,
		directory: directory,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithNowFunc allows tests to override the time source.
func (e *Evaluator) WithNowFunc(now func() time.Time) {
	e.now = now
}

// Resolve decides whether token currently grants playback to requesterID,
// which is empty for anonymous callers. Checks run in a fixed order: token
// existence, then the access window, then the recipient.
func (e *Evaluator) Resolve(ctx context.Context, token, requesterID string) (Playback, error) {
	grant, err := e.registry.Find(ctx, token)
	if err != nil {
		return Playback{}, err
	}

	if err := grant.check(e.now()); err != nil {
		return Playback{}, err
	}

	if grant.SharedWith != "" && e.cfg.RequireRecipientMatch {
		if err := e.checkRecipient(ctx, grant, requesterID); err != nil {
			return Playback{}, err
		}
	}

	asset, err := e.getAsset(ctx, grant.VideoID)
	if err != nil {
		return Playback{}, err
	}

	signCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	url, expiresAt, err := e.assets.SignPlaybackURL(signCtx, asset)
	if err != nil {
		return Playback{}, upstream(KindUpstreamTimeout, err)
	}

	return Playback{
		Grant:        grant,
		Asset:        asset,
		URL:          url,
		URLExpiresAt: expiresAt,
	}, nil
}

func (e *Evaluator) checkRecipient(ctx context.Context, grant Grant, requesterID string) error {
	if requesterID == "" {
		return fail(KindWrongRecipient, errors.New("anonymous requester"))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	user, err := e.directory.Resolve(callCtx, requesterID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fail(KindWrongRecipient, err)
		}
		return upstream(KindUpstreamTimeout, err)
	}

	if !strings.EqualFold(user.Email, grant.SharedWith) {
		return fail(KindWrongRecipient, nil)
	}
	return nil
}

// getAsset treats a vanished video like a vanished grant.
func (e *Evaluator) getAsset(ctx context.Context, videoID string) (Asset, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	asset, err := e.assets.GetAsset(callCtx, videoID)
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			return Asset{}, fail(KindTokenNotFound, err)
		}
		return Asset{}, upstream(KindUpstreamTimeout, err)
	}
	return asset, nil
}

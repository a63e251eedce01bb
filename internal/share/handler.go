package share

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/videobox/videobox/internal/auth"
	"github.com/videobox/videobox/internal/httputil"
	"github.com/videobox/videobox/internal/metrics"
)

const (
	maxIssueBodyBytes = 8 << 10
	viewRecordTimeout = 5 * time.Second
	notifyTimeout     = 10 * time.Second
)

// Notifier tells a recipient that a video was shared with them.
type Notifier interface {
	SendShareNotification(ctx context.Context, toEmail, fileName, courseName, shareURL string, expires *time.Time) error
}

type Handler struct {
	registry  *Registry
	evaluator *Evaluator
	views     *ViewRecorder
	notifier  Notifier
	baseURL   string
	now       func() time.Time
	pending   sync.WaitGroup
}

func NewHandler(registry *Registry, evaluator *Evaluator, views *ViewRecorder, baseURL string) *Handler {
	return &Handler{
		registry:  registry,
		evaluator: evaluator,
		views:     views,
		baseURL:   strings.TrimRight(baseURL, "/"),
		now:       time.Now,
	}
}

func (h *Handler) SetNotifier(n Notifier) {
	h.notifier = n
}

// Wait blocks until background view recording has finished.
func (h *Handler) Wait() {
	h.pending.Wait()
}

type issueRequest struct {
	VideoID    string     `json:"videoId"`
	SharedWith string     `json:"sharedWith"`
	Starts     *time.Time `json:"starts"`
	Expires    *time.Time `json:"expires"`
}

type grantResponse struct {
	ID         string     `json:"id"`
	ShareToken string     `json:"shareToken"`
	ShareURL   string     `json:"shareUrl"`
	SharedWith string     `json:"sharedWith,omitempty"`
	Starts     *time.Time `json:"starts,omitempty"`
	Expires    *time.Time `json:"expires,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	State      string     `json:"state"`
	Views      int64      `json:"views"`
}

type viewResponse struct {
	FileName             string     `json:"fileName"`
	CourseName           string     `json:"courseName,omitempty"`
	ContentType          string     `json:"contentType"`
	Duration             int        `json:"duration"`
	PlaybackURL          string     `json:"playbackUrl"`
	PlaybackURLExpiresAt time.Time  `json:"playbackUrlExpiresAt"`
	Expires              *time.Time `json:"expires,omitempty"`
}

func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req issueRequest
	if err := httputil.DecodeJSON(w, r, maxIssueBodyBytes, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VideoID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "videoId is required")
		return
	}

	grant, err := h.registry.Issue(r.Context(), IssueRequest{
		VideoID:   req.VideoID,
		IssuerID:  userID,
		Recipient: req.SharedWith,
		Starts:    req.Starts,
		Expires:   req.Expires,
	})
	if err != nil {
		metrics.ShareIssueFailures.WithLabelValues(KindOf(err).String()).Inc()
		writeShareError(w, err)
		return
	}
	metrics.SharesIssued.Inc()

	resp := h.toResponse(GrantSummary{Grant: grant})
	if grant.SharedWith != "" && h.notifier != nil {
		h.notify(grant, resp.ShareURL)
	}

	httputil.WriteJSON(w, http.StatusCreated, resp)
}

// notify mails the recipient in the background; errors are logged.
func (h *Handler) notify(grant Grant, shareURL string) {
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		asset, err := h.registry.assets.GetAsset(ctx, grant.VideoID)
		if err != nil {
			slog.Error("share: failed to load video for notification", "share_id", grant.ID, "error", err)
			return
		}
		if err := h.notifier.SendShareNotification(ctx, grant.SharedWith, asset.FileName, asset.CourseName, shareURL, grant.Expires); err != nil {
			slog.Error("share: failed to notify recipient", "share_id", grant.ID, "error", err)
		}
	}()
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "id")

	grants, err := h.registry.ListForVideo(r.Context(), videoID, userID)
	if err != nil {
		writeShareError(w, err)
		return
	}

	items := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		items = append(items, h.toResponse(g))
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	token := chi.URLParam(r, "shareToken")

	if err := h.registry.Revoke(r.Context(), token, userID); err != nil {
		writeShareError(w, err)
		return
	}
	metrics.SharesRevoked.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "shareToken")
	requesterID := auth.UserIDFromContext(r.Context())

	playback, err := h.evaluator.Resolve(r.Context(), token, requesterID)
	if err != nil {
		metrics.ShareResolutions.WithLabelValues(KindOf(err).String()).Inc()
		writeShareError(w, err)
		return
	}
	metrics.ShareResolutions.WithLabelValues(metrics.OutcomeGranted).Inc()

	h.recordView(playback.Grant, clientIP(r), r.UserAgent())

	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, viewResponse{
		FileName:             playback.Asset.FileName,
		CourseName:           playback.Asset.CourseName,
		ContentType:          playback.Asset.ContentType,
		Duration:             playback.Asset.Duration,
		PlaybackURL:          playback.URL,
		PlaybackURLExpiresAt: playback.URLExpiresAt,
		Expires:              playback.Grant.Expires,
	})
}

func (h *Handler) recordView(grant Grant, ip, userAgent string) {
	if h.views == nil {
		return
	}
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), viewRecordTimeout)
		defer cancel()
		if err := h.views.Record(ctx, grant, ip, userAgent); err != nil {
			slog.Error("share: failed to record view", "share_id", grant.ID, "error", err)
		}
	}()
}

// clientIP expects RemoteAddr to have been rewritten by the RealIP middleware.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) shareURL(token string) string {
	return h.baseURL + "/view/" + token
}

func (h *Handler) toResponse(g GrantSummary) grantResponse {
	return grantResponse{
		ID:         g.ID,
		ShareToken: g.Token,
		ShareURL:   h.shareURL(g.Token),
		SharedWith: g.SharedWith,
		Starts:     g.Starts,
		Expires:    g.Expires,
		RevokedAt:  g.RevokedAt,
		CreatedAt:  g.CreatedAt,
		State:      g.State(h.now()),
		Views:      g.Views,
	}
}

func writeShareError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	status, message := http.StatusInternalServerError, "internal server error"

	switch kind {
	case KindNotOwner:
		status, message = http.StatusForbidden, "you can only share videos you own"
	case KindInvalidWindow:
		status, message = http.StatusBadRequest, "starts must be before expires"
	case KindInvalidRecipient:
		status, message = http.StatusBadRequest, "sharedWith must be a registered user or a valid email address"
	case KindRegistryUnavailable:
		status, message = http.StatusServiceUnavailable, "share registry unavailable, try again"
	case KindTokenNotFound:
		status, message = http.StatusNotFound, "share link not found"
	case KindNotYetActive:
		status, message = http.StatusForbidden, "this link is not active yet"
	case KindExpired:
		status, message = http.StatusGone, "this link has expired"
	case KindRevoked:
		status, message = http.StatusGone, "this link has been revoked"
	case KindWrongRecipient:
		status, message = http.StatusForbidden, "this video was not shared with you"
	case KindUpstreamTimeout:
		status, message = http.StatusGatewayTimeout, "upstream service timed out"
	}

	if status >= http.StatusInternalServerError {
		slog.Error("share: request failed", "kind", kind.String(), "error", err)
	}
	httputil.WriteErrorCode(w, status, kind.String(), message)
}

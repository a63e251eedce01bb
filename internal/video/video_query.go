package video

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/videobox/videobox/internal/auth"
	"github.com/videobox/videobox/internal/httputil"
	"github.com/videobox/videobox/internal/validate"
)

const defaultPageSize = 50
const maxPageSize = 100

type listItem struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	CourseID    string    `json:"courseId"`
	CourseName  string    `json:"courseName"`
	ContentType string    `json:"contentType"`
	FileSize    int64     `json:"fileSize"`
	Duration    int       `json:"duration"`
	Status      string    `json:"status"`
	ShareCount  int64     `json:"shareCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

type listResponse struct {
	Items  []listItem `json:"items"`
	Total  int64      `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

type videoResponse struct {
	listItem
	PlaybackURL          string     `json:"playbackUrl,omitempty"`
	PlaybackURLExpiresAt *time.Time `json:"playbackUrlExpiresAt,omitempty"`
}

// parsePage reads limit and offset. Missing or zero values fall back to the
// defaults; limits above maxPageSize are clamped.
func parsePage(r *http.Request) (limit, offset int, ok bool) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l < 0 {
			return 0, 0, false
		}
		if l > 0 {
			limit = l
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		o, err := strconv.Atoi(raw)
		if err != nil || o < 0 {
			return 0, 0, false
		}
		offset = o
	}
	return limit, offset, true
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	limit, offset, ok := parsePage(r)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "limit and offset must be non-negative integers")
		return
	}
	courseID := r.URL.Query().Get("courseId")

	var total int64
	if err := h.db.QueryRow(r.Context(),
		`SELECT COUNT(*) FROM videos
		 WHERE user_id = $1 AND status != 'deleted' AND ($2 = '' OR course_id::text = $2)`,
		userID, courseID,
	).Scan(&total); err != nil {
		slog.Error("video: failed to count videos", "user_id", userID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list videos")
		return
	}

	rows, err := h.db.Query(r.Context(),
		`SELECT v.id, v.file_name, v.course_id, c.name, v.content_type, v.file_size, v.duration, v.status,
		        (SELECT COUNT(*) FROM video_shares s WHERE s.video_id = v.id) AS share_count,
		        v.created_at
		 FROM videos v
		 JOIN courses c ON c.id = v.course_id
		 WHERE v.user_id = $1 AND v.status != 'deleted' AND ($2 = '' OR v.course_id::text = $2)
		 ORDER BY v.created_at DESC
		 LIMIT $3 OFFSET $4`,
		userID, courseID, limit, offset,
	)
	if err != nil {
		slog.Error("video: failed to list videos", "user_id", userID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list videos")
		return
	}
	defer rows.Close()

	items := make([]listItem, 0, limit)
	for rows.Next() {
		var item listItem
		if err := rows.Scan(&item.ID, &item.FileName, &item.CourseID, &item.CourseName, &item.ContentType,
			&item.FileSize, &item.Duration, &item.Status, &item.ShareCount, &item.CreatedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to scan video")
			return
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list videos")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, listResponse{Items: items, Total: total, Limit: limit, Offset: offset})
}

// Get returns one of the caller's own videos. Owners need no share grant to
// watch their uploads, so ready videos carry a signed playback URL.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "id")

	var resp videoResponse
	var fileKey string
	err := h.db.QueryRow(r.Context(),
		`SELECT v.id, v.file_name, v.course_id, c.name, v.content_type, v.file_size, v.duration, v.status,
		        (SELECT COUNT(*) FROM video_shares s WHERE s.video_id = v.id) AS share_count,
		        v.created_at, v.file_key
		 FROM videos v
		 JOIN courses c ON c.id = v.course_id
		 WHERE v.id::text = $1 AND v.user_id = $2 AND v.status != 'deleted'`,
		videoID, userID,
	).Scan(&resp.ID, &resp.FileName, &resp.CourseID, &resp.CourseName, &resp.ContentType,
		&resp.FileSize, &resp.Duration, &resp.Status, &resp.ShareCount, &resp.CreatedAt, &fileKey)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	if resp.Status == "ready" {
		url, err := h.storage.GenerateDownloadURL(r.Context(), fileKey, resp.ContentType, h.playbackTTL)
		if err != nil {
			slog.Error("video: failed to presign playback", "video_id", videoID, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "failed to generate playback URL")
			return
		}
		expiresAt := time.Now().Add(h.playbackTTL)
		resp.PlaybackURL = url
		resp.PlaybackURLExpiresAt = &expiresAt
	}

	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type limitsResponse struct {
	MaxUploadBytes int64          `json:"maxUploadBytes"`
	ContentTypes   []string       `json:"contentTypes"`
	FieldLimits    map[string]int `json:"fieldLimits"`
}

// Limits reports upload and form limits so a UI can validate before calling
// the API.
func (h *Handler) Limits(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, limitsResponse{
		MaxUploadBytes: h.maxUploadBytes,
		ContentTypes:   []string{"video/mp4", "video/quicktime", "video/webm"},
		FieldLimits:    validate.FieldLimits(),
	})
}

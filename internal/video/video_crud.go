package video

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/videobox/videobox/internal/auth"
	"github.com/videobox/videobox/internal/httputil"
	"github.com/videobox/videobox/internal/storage"
	"github.com/videobox/videobox/internal/validate"
)

const maxCreateBodyBytes = 8 << 10

type createRequest struct {
	FileName    string `json:"fileName"`
	CourseID    string `json:"courseId"`
	ContentType string `json:"contentType"`
	FileSize    int64  `json:"fileSize"`
	Duration    int    `json:"duration"`
}

type createResponse struct {
	ID        string `json:"id"`
	UploadURL string `json:"uploadUrl"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req createRequest
	if err := httputil.DecodeJSON(w, r, maxCreateBodyBytes, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.FileName = strings.TrimSpace(req.FileName)
	if msg := validate.FileName(req.FileName); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if req.CourseID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "courseId is required")
		return
	}
	if _, ok := supportedContentTypes[req.ContentType]; !ok {
		httputil.WriteError(w, http.StatusBadRequest, "only video/mp4, video/webm, and video/quicktime uploads are supported")
		return
	}
	if req.FileSize <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "fileSize must be positive")
		return
	}
	if h.maxUploadBytes > 0 && req.FileSize > h.maxUploadBytes {
		httputil.WriteError(w, http.StatusBadRequest, "file too large")
		return
	}
	if req.Duration < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "duration must not be negative")
		return
	}

	var courseName string
	err := h.db.QueryRow(r.Context(),
		`SELECT name FROM courses WHERE id::text = $1 AND user_id = $2`,
		req.CourseID, userID,
	).Scan(&courseName)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "course not found")
		return
	}
	if err != nil {
		slog.Error("video: failed to look up course", "course_id", req.CourseID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create video")
		return
	}

	fileKey := videoFileKey(userID, uuid.NewString(), req.ContentType)

	var videoID string
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO videos (user_id, course_id, file_name, file_key, content_type, file_size, duration)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		userID, req.CourseID, req.FileName, fileKey, req.ContentType, req.FileSize, req.Duration,
	).Scan(&videoID)
	if err != nil {
		slog.Error("video: failed to insert video", "user_id", userID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create video")
		return
	}

	uploadURL, err := h.storage.GenerateUploadURL(r.Context(), fileKey, req.ContentType, req.FileSize, uploadURLTTL)
	if err != nil {
		slog.Error("video: failed to presign upload", "video_id", videoID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate upload URL")
		return
	}

	slog.Info("video: upload started", "video_id", videoID, "course", courseName, "size", req.FileSize)
	httputil.WriteJSON(w, http.StatusCreated, createResponse{ID: videoID, UploadURL: uploadURL})
}

// Complete verifies the uploaded object against what Create promised and
// marks the video ready for playback and sharing.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "id")

	var fileKey, expectedContentType string
	var fileSize int64
	err := h.db.QueryRow(r.Context(),
		`SELECT file_key, file_size, content_type FROM videos
		 WHERE id::text = $1 AND user_id = $2 AND status = 'uploading'`,
		videoID, userID,
	).Scan(&fileKey, &fileSize, &expectedContentType)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	size, contentType, err := h.storage.HeadObject(r.Context(), fileKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		httputil.WriteError(w, http.StatusBadRequest, "upload not found")
		return
	}
	if err != nil {
		slog.Error("video: failed to verify upload", "video_id", videoID, "error", err)
		httputil.WriteError(w, http.StatusBadRequest, "could not verify upload")
		return
	}
	if size <= 0 || (h.maxUploadBytes > 0 && size > h.maxUploadBytes) {
		httputil.WriteError(w, http.StatusBadRequest, "uploaded file invalid size")
		return
	}
	if size != fileSize {
		httputil.WriteError(w, http.StatusBadRequest, "uploaded file size mismatch")
		return
	}
	if contentType != expectedContentType {
		httputil.WriteError(w, http.StatusBadRequest, "uploaded file invalid type")
		return
	}

	tag, err := h.db.Exec(r.Context(),
		`UPDATE videos SET status = 'ready', updated_at = now()
		 WHERE id::text = $1 AND user_id = $2 AND status = 'uploading'`,
		videoID, userID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update video")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "id")

	var fileKey string
	err := h.db.QueryRow(r.Context(),
		`UPDATE videos SET status = 'deleted', updated_at = now()
		 WHERE id::text = $1 AND user_id = $2 AND status != 'deleted'
		 RETURNING file_key`,
		videoID, userID,
	).Scan(&fileKey)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	h.purges.Add(1)
	go func() {
		defer h.purges.Done()
		ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
		defer cancel()
		h.purgeObject(ctx, fileKey)
	}()

	w.WriteHeader(http.StatusNoContent)
}

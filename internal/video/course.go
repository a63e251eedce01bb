package video

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/videobox/videobox/internal/auth"
	"github.com/videobox/videobox/internal/database"
	"github.com/videobox/videobox/internal/httputil"
	"github.com/videobox/videobox/internal/validate"
)

const courseNameConstraint = "courses_user_name_key"

type courseRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type courseResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	VideoCount  int64     `json:"videoCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req courseRequest
	if err := httputil.DecodeJSON(w, r, maxCreateBodyBytes, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if msg := validate.CourseName(req.Name); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validate.CourseDescription(req.Description); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	resp := courseResponse{Name: req.Name, Description: req.Description}
	err := h.db.QueryRow(r.Context(),
		`INSERT INTO courses (user_id, name, description) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		userID, req.Name, req.Description,
	).Scan(&resp.ID, &resp.CreatedAt)
	if database.IsUniqueViolation(err, courseNameConstraint) {
		httputil.WriteError(w, http.StatusConflict, "a course with this name already exists")
		return
	}
	if err != nil {
		slog.Error("video: failed to create course", "user_id", userID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create course")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	rows, err := h.db.Query(r.Context(),
		`SELECT c.id, c.name, c.description,
		        (SELECT COUNT(*) FROM videos v WHERE v.course_id = c.id AND v.status != 'deleted') AS video_count,
		        c.created_at
		 FROM courses c
		 WHERE c.user_id = $1
		 ORDER BY c.name`,
		userID,
	)
	if err != nil {
		slog.Error("video: failed to list courses", "user_id", userID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list courses")
		return
	}
	defer rows.Close()

	items := []courseResponse{}
	for rows.Next() {
		var c courseResponse
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.VideoCount, &c.CreatedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to scan course")
			return
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list courses")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, items)
}

package video

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
)

var listColumns = []string{"id", "file_name", "course_id", "name", "content_type", "file_size", "duration", "status", "share_count", "created_at"}

func TestParsePage(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
		wantOK     bool
	}{
		{"", defaultPageSize, 0, true},
		{"?limit=10&offset=20", 10, 20, true},
		{"?limit=0", defaultPageSize, 0, true},
		{"?limit=500", maxPageSize, 0, true},
		{"?limit=-1", 0, 0, false},
		{"?offset=-5", 0, 0, false},
		{"?limit=abc", 0, 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/videos"+tc.query, nil)
			limit, offset, ok := parsePage(req)
			if ok != tc.wantOK || limit != tc.wantLimit || offset != tc.wantOffset {
				t.Errorf("parsePage(%q) = (%d, %d, %v), want (%d, %d, %v)",
					tc.query, limit, offset, ok, tc.wantLimit, tc.wantOffset, tc.wantOK)
			}
		})
	}
}

func serveList(t *testing.T, handler *Handler, query string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.With(newAuthMiddleware()).Get("/api/videos", handler.List)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authenticatedRequest(t, http.MethodGet, "/api/videos"+query, nil))
	return rec
}

func TestList_ReturnsPage(t *testing.T) {
	mock := newMockPool(t)
	defer mock.Close()
	handler := NewHandler(mock, &mockStorage{}, 0, time.Hour)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(testUserID, "").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(12)))
	mock.ExpectQuery(`FROM videos v`).
		WithArgs(testUserID, "", 2, 10).
		WillReturnRows(pgxmock.NewRows(listColumns).
			AddRow("v-2", "b.mp4", testCourseID, "Swimming 101", "video/mp4", int64(200), 60, "ready", int64(3), created).
			AddRow("v-1", "a.webm", testCourseID, "Swimming 101", "video/webm", int64(100), 0, "uploading", int64(0), created.Add(-time.Hour)))

	rec := serveList(t, handler, "?limit=2&offset=10")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var resp listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Total != 12 || resp.Limit != 2 || resp.Offset != 10 {
		t.Errorf("unexpected paging: total=%d limit=%d offset=%d", resp.Total, resp.Limit, resp.Offset)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(resp.Items))
	}
	if resp.Items[0].ID != "v-2" || resp.Items[0].ShareCount != 3 {
		t.Errorf("unexpected first item %+v", resp.Items[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestList_EmptyIsArray(t *testing.T) {
	mock := newMockPool(t)
	defer mock.Close()
	handler := NewHandler(mock, &mockStorage{}, 0, time.Hour)

	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(testUserID, testCourseID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery(`FROM videos v`).
		WithArgs(testUserID, testCourseID, defaultPageSize, 0).
		WillReturnRows(pgxmock.NewRows(listColumns))

	rec := serveList(t, handler, "?courseId="+testCourseID)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if string(raw["items"]) != "[]" {
		t.Errorf("expected empty items array, got %s", raw["items"])
	}
}

func TestList_NegativeOffset(t *testing.T) {
	mock := newMockPool(t)
	defer mock.Close()
	handler := NewHandler(mock, &mockStorage{}, 0, time.Hour)

	rec := serveList(t, handler, "?offset=-1")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestList_CountFailure(t *testing.T) {
	mock := newMockPool(t)
	defer mock.Close()
	handler := NewHandler(mock, &mockStorage{}, 0, time.Hour)

	mock.ExpectQuery(`SELECT COUNT`).WithArgs(testUserID, "").WillReturnError(errors.New("connection refused"))

	rec := serveList(t, handler, "")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
}

func serveGet(t *testing.T, handler *Handler) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.With(newAuthMiddleware()).Get("/api/videos/{id}", handler.Get)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authenticatedRequest(t, http.MethodGet, "/api/videos/"+testVideoID, nil))
	return rec
}

func TestGet_ReadyVideoHasPlaybackURL(t *testing.T) {
	mock := newMockPool(t)
	defer mock.Close()
	handler := NewHandler(mock, &mockStorage{downloadURL: "https://s3.example.com/v.mp4?sig"}, 0, time.Hour)

	mock.ExpectQuery(`FROM videos v`).
		WithArgs(testVideoID, testUserID).
		WillReturnRows(pgxmock.NewRows(append(listColumns, "file_key")).
			AddRow(testVideoID, "a.mp4", testCourseID, "Swimming 101", "video/mp4", int64(100), 30, "ready", int64(1), time.Now(), "recordings/u/a.mp4"))

	rec := serveGet(t, handler)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("expected Cache-Control no-store, got %q", rec.Header().Get("Cache-Control"))
	}
	var resp videoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.PlaybackURL != "https://s3.example.com/v.mp4?sig" {
		t.Errorf("unexpected playback URL %q", resp.PlaybackURL)
	}
	if resp.PlaybackURLExpiresAt == nil {
		t.Error("expected playback URL expiry")
	}
}

func TestGet_UploadingVideoHasNoPlaybackURL(t *testing.T) {
	mock := newMockPool(t)
	defer mock.Close()
	handler := NewHandler(mock, &mockStorage{downloadErr: errors.New("should not be called")}, 0, time.Hour)

	mock.ExpectQuery(`FROM videos v`).
		WithArgs(testVideoID, testUserID).
		WillReturnRows(pgxmock.NewRows(append(listColumns, "file_key")).
			AddRow(testVideoID, "a.mp4", testCourseID, "Swimming 101", "video/mp4", int64(100), 30, "uploading", int64(0), time.Now(), "recordings/u/a.mp4"))

	rec := serveGet(t, handler)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var resp videoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.PlaybackURL != "" {
		t.Errorf("expected no playback URL, got %q", resp.PlaybackURL)
	}
}

func TestGet_NotFound(t *testing.T) {
	mock := newMockPool(t)
	defer mock.Close()
	handler := NewHandler(mock, &mockStorage{}, 0, time.Hour)

	mock.ExpectQuery(`FROM videos v`).WithArgs(testVideoID, testUserID).WillReturnError(pgx.ErrNoRows)

	rec := serveGet(t, handler)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestLimits(t *testing.T) {
	handler := NewHandler(nil, &mockStorage{}, 1<<30, time.Hour)

	rec := httptest.NewRecorder()
	handler.Limits(rec, httptest.NewRequest(http.MethodGet, "/api/limits", nil))

	var resp limitsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.MaxUploadBytes != 1<<30 {
		t.Errorf("expected max upload bytes %d, got %d", 1<<30, resp.MaxUploadBytes)
	}
	if resp.FieldLimits["courseName"] != 100 {
		t.Errorf("expected courseName limit 100, got %d", resp.FieldLimits["courseName"])
	}
}

package server

import (
	"io/fs"
	"net/http"
	"strings"

	"github.com/videobox/videobox/internal/httputil"
)

// spaFileServer serves a built front end. Unknown paths fall back to
// index.html so client-side routes such as /view/{token} load the app;
// unknown /api/ paths stay JSON 404s.
type spaFileServer struct {
	fileServer http.Handler
	fileSystem fs.FS
}

func newSPAFileServer(fsys fs.FS) *spaFileServer {
	return &spaFileServer{
		fileServer: http.FileServer(http.FS(fsys)),
		fileSystem: fsys,
	}
}

func (s *spaFileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "index.html"
	}

	if _, err := fs.Stat(s.fileSystem, path); err != nil {
		r.URL.Path = "/"
		w.Header().Set("Cache-Control", "no-cache")
	}

	s.fileServer.ServeHTTP(w, r)
}

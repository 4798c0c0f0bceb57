package storage

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"
)

// DownloadHandler serves objects referenced by links from signer. The
// object name comes from the token only, never from the request path.
func DownloadHandler(files Storage, signer *TokenSigner, logger *zap.SugaredLogger) http.Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		name, err := signer.Verify(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "invalid or expired link", http.StatusForbidden)
			return
		}

		rc, err := files.Open(r.Context(), name)
		if IsNotFound(err) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			logger.Errorw("download open failed", "object", name, "err", err)
			http.Error(w, "download unavailable", http.StatusInternalServerError)
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", contentType(name))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(name)))
		w.Header().Set("Cache-Control", "private, no-store")
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, rc); err != nil {
			logger.Warnw("download interrupted", "object", name, "err", err)
		}
	})
}

var contentTypes = map[string]string{
	".csv":  "text/csv",
	".txt":  "text/plain",
	".json": "application/json",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func contentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

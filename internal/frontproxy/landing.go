package frontproxy

import (
	_ "embed"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

//go:embed landing_default.html
var defaultLandingTemplate string

// renderLanding reads index.html from the given folder (falling back to
// the embedded default), substitutes DONE_MS, DURATION_MS, KEEP_ALIVE, and
// writes it as a 200 with no-store caching.
func renderLanding(w http.ResponseWriter, folder string, elapsed, eta time.Duration, keepAlive time.Duration) {
	tmpl := defaultLandingTemplate
	if folder != "" {
		if b, err := os.ReadFile(filepath.Join(folder, "index.html")); err == nil {
			tmpl = string(b)
		}
	}

	body := tmpl
	body = strings.ReplaceAll(body, "DONE_MS", strconv.FormatInt(elapsed.Milliseconds(), 10))
	body = strings.ReplaceAll(body, "DURATION_MS", strconv.FormatInt(eta.Milliseconds(), 10))
	body = strings.ReplaceAll(body, "KEEP_ALIVE", strconv.FormatInt(int64(keepAlive.Seconds()), 10))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if remaining := eta - elapsed; remaining > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(remaining.Seconds()), 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/clipmux/clipmux/internal/log"
)

// errEscapesRoot marks a resolved path outside the static root.
var errEscapesRoot = errors.New("api: path escapes static root")

// staticHandler serves the bundled web client. Unknown paths fall back to
// the root index.html so client-side routes survive a page reload; paths
// that escape the static root are refused.
func (s *Server) staticHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponentFromContext(r.Context(), "api")

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			staticDeniedTotal.WithLabelValues("method_not_allowed").Inc()
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Multiple decode passes plus Unicode normalization catch encoded
		// traversal sequences before any filesystem access.
		if isPathTraversal(r.URL.Path) {
			logger.Warn().
				Str(log.FieldPath, r.URL.Path).
				Str(log.FieldEvent, "static.denied").
				Msg("traversal sequence in request path")
			staticDeniedTotal.WithLabelValues("path_escape").Inc()
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}

		root, err := filepath.Abs(s.cfg.StaticDir)
		if err != nil {
			staticDeniedTotal.WithLabelValues("internal_error").Inc()
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		realRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			if os.IsNotExist(err) {
				staticDeniedTotal.WithLabelValues("not_found").Inc()
				http.Error(w, "Not found", http.StatusNotFound)
				return
			}
			staticDeniedTotal.WithLabelValues("internal_error").Inc()
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		rel := strings.TrimPrefix(r.URL.Path, "/")
		target := filepath.Join(realRoot, filepath.FromSlash(rel))

		realPath, err := s.resolveWithin(realRoot, target)
		if err == nil {
			if info, statErr := os.Stat(realPath); statErr == nil && info.IsDir() {
				// A directory serves its own index.html when present.
				realPath, err = s.resolveWithin(realRoot, filepath.Join(realPath, "index.html"))
			}
		}
		switch {
		case errors.Is(err, errEscapesRoot):
			logger.Warn().
				Str(log.FieldPath, r.URL.Path).
				Str(log.FieldEvent, "static.denied").
				Msg("resolved path escapes static root")
			staticDeniedTotal.WithLabelValues("path_escape").Inc()
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		case os.IsNotExist(err):
			// Client-side routes resolve to files that do not exist; hand
			// them the application shell instead.
			realPath, err = s.resolveWithin(realRoot, filepath.Join(realRoot, "index.html"))
			if err != nil {
				staticDeniedTotal.WithLabelValues("not_found").Inc()
				http.Error(w, "Not found", http.StatusNotFound)
				return
			}
			staticSPAFallbacksTotal.Inc()
		case err != nil:
			staticDeniedTotal.WithLabelValues("internal_error").Inc()
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		s.serveStaticFile(w, r, logger, realPath)
	}
}

// resolveWithin resolves target through symlinks and verifies it stays
// inside root. Returns os.ErrNotExist passthrough for missing files.
func (s *Server) resolveWithin(root, target string) (string, error) {
	real, err := filepath.EvalSymlinks(target)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, real)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", errEscapesRoot
	}
	return real, nil
}

// serveStaticFile streams one validated file with cache validators. The
// application shell is never cached so deploys take effect on reload;
// fingerprinted assets get an hour.
func (s *Server) serveStaticFile(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, path string) {
	f, err := os.Open(path) // #nosec G304 -- path validated against the static root
	if err != nil {
		if os.IsNotExist(err) {
			staticDeniedTotal.WithLabelValues("not_found").Inc()
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		staticDeniedTotal.WithLabelValues("internal_error").Inc()
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, path).Msg("static file close failed")
		}
	}()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		staticDeniedTotal.WithLabelValues("internal_error").Inc()
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	etag := fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), info.Size())
	w.Header().Set("ETag", etag)
	if info.Name() == "index.html" {
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}

	if match := r.Header.Get("If-None-Match"); match == etag {
		staticCacheHitsTotal.Inc()
		w.WriteHeader(http.StatusNotModified)
		return
	}

	staticServedTotal.Inc()
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// isPathTraversal checks a request path for traversal attempts. It decodes
// repeatedly to catch double encoding, applies Unicode normalization, and
// refuses dot-dot sequences and NUL bytes in any form.
func isPathTraversal(p string) bool {
	decoded := p
	for i := 0; i < 3; i++ {
		prev := decoded
		if d, err := url.PathUnescape(decoded); err == nil {
			decoded = d
		} else if d, err := url.QueryUnescape(decoded); err == nil {
			decoded = d
		}
		if decoded == prev {
			break
		}
	}

	lower := strings.ToLower(decoded)
	for _, pat := range []string{"..", "%00", "%c0%ae", "%e0%80%ae"} {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	if strings.IndexByte(decoded, 0x00) >= 0 {
		return true
	}

	// Normalization can reassemble dot-dot from decomposed code points.
	return strings.Contains(strings.ToLower(norm.NFC.String(decoded)), "..")
}

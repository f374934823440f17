package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// registerFallback answers unknown routes with 404, or serves the built
// frontend from StaticDir with an index.html fallback when one is configured.
func (s *Server) registerFallback() {
	staticDir := strings.TrimSpace(s.cfg.StaticDir)

	s.engine.NoRoute(func(c *gin.Context) {
		if staticDir == "" || strings.HasPrefix(c.Request.URL.Path, "/api/") {
			AbortWithError(c, ErrRouteNotFound)
			return
		}
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			AbortWithError(c, ErrRouteNotFound)
			return
		}

		if fileExists(staticDir, c.Request.URL.Path) {
			c.File(filepath.Join(staticDir, filepath.Clean(c.Request.URL.Path)))
			return
		}

		if fileExists(staticDir, "/index.html") {
			c.File(filepath.Join(staticDir, "index.html"))
			return
		}
		AbortWithError(c, ErrRouteNotFound)
	})
}

func fileExists(publicDir, reqPath string) bool {
	clean := filepath.Clean("/" + reqPath)

	// prevent path traversal
	if clean == "." || clean == "/" || clean == ".." {
		return false
	}

	info, err := os.Stat(filepath.Join(publicDir, clean))
	if err != nil {
		return false
	}

	return !info.IsDir()
}

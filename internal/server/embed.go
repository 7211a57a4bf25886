package server

import (
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vesaa/cncmate/webui"
)

// RegisterStaticFiles mounts the embedded dashboard on the Gin engine.
// API routes registered before this take precedence. Existing files are
// served as-is; every other unmatched GET falls back to index.html.
func RegisterStaticFiles(r *gin.Engine) {
	webRoot, err := fs.Sub(webui.FS, "web")
	if err != nil {
		panic("embed: web sub-fs failed: " + err.Error())
	}
	staticFS := http.FS(webRoot)
	files := http.FileServer(staticFS)

	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet || strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		name := strings.TrimPrefix(path.Clean(c.Request.URL.Path), "/")
		if name != "" && name != "index.html" {
			if f, err := webRoot.Open(name); err == nil {
				f.Close()
				files.ServeHTTP(c.Writer, c.Request)
				return
			}
		}

		f, err := staticFS.Open("index.html")
		if err != nil {
			c.String(http.StatusNotFound, "dashboard not found")
			return
		}
		defer f.Close()
		stat, _ := f.Stat()
		c.DataFromReader(http.StatusOK, stat.Size(), "text/html; charset=utf-8", f, nil)
	})
}

package server

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// fileOnlyFS hides directories so the file server never renders listings.
type fileOnlyFS struct {
	fs http.FileSystem
}

func (f fileOnlyFS) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}

// static serves files under the static directory for any unmatched GET.
func (s *Server) static(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not found"})
		return
	}
	fileServer := http.FileServer(fileOnlyFS{http.Dir(s.cfg.StaticDir)})
	fileServer.ServeHTTP(c.Writer, c.Request)
}

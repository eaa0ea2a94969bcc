package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

//go:embed static/*
var EmbeddedStaticFS embed.FS

//go:embed templates/*.html
var embeddedTemplatesFS embed.FS

// pages rendered inside base.html
var pageTemplates = []string{"users.html", "error.html"}

// loadTemplates parses every page together with base.html once at startup
func loadTemplates() (map[string]*template.Template, error) {
	out := make(map[string]*template.Template, len(pageTemplates))
	for _, name := range pageTemplates {
		tmpl, err := template.New(name).ParseFS(embeddedTemplatesFS, "templates/base.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		out[name] = tmpl
	}
	return out, nil
}

// ListEmbeddedFiles returns a list of all embedded static files for debugging
func ListEmbeddedFiles() ([]string, error) {
	var files []string
	err := fs.WalkDir(EmbeddedStaticFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// EmbeddedStaticHandler returns a Gin handler for serving embedded static files
func EmbeddedStaticHandler(prefix string) gin.HandlerFunc {
	// Create a sub-filesystem for the static files
	staticFS, err := fs.Sub(EmbeddedStaticFS, "static")
	if err != nil {
		panic("Failed to create embedded static filesystem: " + err.Error())
	}

	// Create an HTTP filesystem handler
	fileServer := http.FileServer(http.FS(staticFS))

	return func(c *gin.Context) {
		// Strip the URL path prefix to get the file path
		p := strings.TrimPrefix(c.Request.URL.Path, prefix)
		if p == "" || p == "/" {
			// Static directory has no index file, return 404
			c.AbortWithStatus(http.StatusNotFound)
			return
		}

		// Update the request URL path for the file server
		c.Request.URL.Path = p

		// Set some cache headers for static content
		c.Header("Cache-Control", "public, max-age=3600") // browser caches an hour

		// Serve the file
		fileServer.ServeHTTP(c.Writer, c.Request)
	}
}

// EmbeddedFileHandler returns a Gin handler for serving a single embedded file
func EmbeddedFileHandler(filePath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		content, err := fs.ReadFile(EmbeddedStaticFS, filePath)
		if err != nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		c.Data(http.StatusOK, getContentType(filePath), content)
	}
}

// getContentType returns the appropriate MIME type for common file extensions
func getContentType(filePath string) string {
	switch path.Ext(filePath) {
	case ".ico":
		return "image/x-icon"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript"
	case ".png":
		return "image/png"
	case ".svg":
		return "image/svg+xml"
	case ".html":
		return "text/html; charset=utf-8"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

package web

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"html/template"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/raven-go"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/go-while/go-rangeview/internal/config"
	"github.com/go-while/go-rangeview/internal/fetcher"
	"github.com/go-while/go-rangeview/internal/models"
)

// Client-facing messages. Details stay in the logs.
const (
	msgUnavailable = "Database not available"
	msgNotFound    = "No data found in the users table"
	msgFailed      = "Failed to query database"
)

var printer = message.NewPrinter(language.English)

// getBaseTemplateData creates a TemplateData struct with common information
func (s *WebServer) getBaseTemplateData(c *gin.Context, title string) TemplateData {
	return TemplateData{
		Title:       template.HTML(template.HTMLEscapeString(title)),
		CurrentTime: time.Now().Format("2006-01-02 15:04:05"),
		AppVersion:  config.AppVersion,
		RequestID:   requestID(c),
	}
}

// renderError renders an error page
func (s *WebServer) renderError(c *gin.Context, statusCode int, message string, errstring string) {
	errorData := struct {
		TemplateData
		Error      string
		StatusCode int
	}{
		TemplateData: s.getBaseTemplateData(c, "Error"),
		Error:        message,
		StatusCode:   statusCode,
	}
	log.Printf("[WEB]: Error %d: %s - %s (request %s)", statusCode, message, errstring, requestID(c))

	var buf bytes.Buffer
	if err := s.templates["error.html"].ExecuteTemplate(&buf, "base.html", errorData); err != nil {
		log.Printf("[WEB]: Error rendering error template: %v", err)
		c.String(statusCode, "Error: %s", message)
		return
	}
	c.Data(statusCode, "text/html; charset=utf-8", buf.Bytes())
}

// renderTemplate renders a page inside base.html.
// Output is buffered so a template failure still yields a clean error page.
func (s *WebServer) renderTemplate(c *gin.Context, statusCode int, templateName string, data interface{}) {
	tmpl, ok := s.templates[templateName]
	if !ok {
		s.renderError(c, http.StatusInternalServerError, "Template error", "unknown template "+templateName)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		log.Printf("[WEB]: Error rendering template %s: %v", templateName, err)
		s.renderError(c, http.StatusInternalServerError, "Template error", err.Error())
		return
	}
	c.Data(statusCode, "text/html; charset=utf-8", buf.Bytes())
}

// fetchErrorStatus maps a fetch error onto the HTTP status and the client message
func fetchErrorStatus(err error) (int, string) {
	switch fetcher.Classify(err) {
	case fetcher.StatusNotFound:
		return http.StatusNotFound, msgNotFound
	case fetcher.StatusUnavailable:
		return http.StatusInternalServerError, msgUnavailable
	default:
		return http.StatusInternalServerError, msgFailed
	}
}

// captureError sends query failures to Sentry; a no-op until raven.SetDSN is called
var captureError = raven.CaptureError

// reportFetchError logs a failed primary fetch and forwards query failures to Sentry
func (s *WebServer) reportFetchError(c *gin.Context, err error) {
	switch fetcher.Classify(err) {
	case fetcher.StatusNotFound:
		log.Printf("[WEB]: %s: table %s is empty (request %s)", c.Request.URL.Path, s.Table, requestID(c))
		return
	case fetcher.StatusUnavailable:
		// configuration state, not a query failure
		log.Printf("[WEB]: %s: no database configured (request %s)", c.Request.URL.Path, requestID(c))
		return
	}
	tags := map[string]string{
		"table":      s.Table,
		"path":       c.Request.URL.Path,
		"request_id": requestID(c),
	}
	var qe *fetcher.QueryError
	if errors.As(err, &qe) {
		tags["stage"] = string(qe.Stage)
	}
	log.Printf("[WEB]: Error querying database: %v (request %s)", err, requestID(c))
	captureError(err, tags)
}

// formatCount renders "1,234 users"
func formatCount(n int, noun string) string {
	if n != 1 {
		noun += "s"
	}
	return printer.Sprintf("%d %s", n, noun)
}

// recordsETag hashes the JSON form of the records. Identical data yields an identical tag.
func recordsETag(records []*models.Record) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if err := json.NewEncoder(h).Encode(records); err != nil {
		return "", err
	}
	return `"` + hex.EncodeToString(h.Sum(nil)[:16]) + `"`, nil
}

// etagMatches reports whether an If-None-Match header value matches etag
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

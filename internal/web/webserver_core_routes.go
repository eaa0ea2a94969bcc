package web

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/go-while/go-rangeview/internal/config"
	"github.com/go-while/go-rangeview/internal/fetcher"
	"github.com/go-while/go-rangeview/internal/metrics"
	"github.com/go-while/go-rangeview/internal/models"
)

// UsersFetcher is what the page needs from the primary source
type UsersFetcher interface {
	Fetch(ctx context.Context) (*models.FetchResult, error)
	Plan(ctx context.Context) (*models.PartitionPlan, error)
	Partitions() int
}

// WebServer represents the web server
type WebServer struct {
	Router     *gin.Engine
	Config     *config.WebConfig
	Users      UsersFetcher          // nil: database binding unavailable
	Secondary  fetcher.RecordFetcher // nil: no secondary table
	Table      string
	StartTime  time.Time
	templates  map[string]*template.Template
	httpServer *http.Server
}

// TemplateData represents common template data
type TemplateData struct {
	Title       template.HTML
	CurrentTime string
	AppVersion  string
	RequestID   string
}

// UsersPageData represents data for the users page
type UsersPageData struct {
	TemplateData
	Table            string
	Partitions       int
	PartSize         int64
	RowCount         string
	Records          []*models.Record
	Truncated        bool
	SecondaryEnabled bool
	SecondaryRecords []*models.Record
	SecondaryError   string
}

// NewServer creates a new web server instance.
// users may be nil, every page then reports the missing database binding.
func NewServer(webconfig *config.WebConfig, users UsersFetcher, secondary fetcher.RecordFetcher, table string) (*WebServer, error) {
	if webconfig.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		// Set Gin to release mode for production
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	// Configure Gin to trust reverse proxy headers
	if err := router.SetTrustedProxies(webconfig.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	// Configure security headers based on SSL setup
	secureConfig := secure.Config{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'",
	}

	// Only add SSL-specific headers if SSL is enabled on the application itself
	// (not when running behind a reverse proxy like nginx with SSL)
	if webconfig.SSL {
		secureConfig.SSLRedirect = true
		secureConfig.STSSeconds = 31536000
		secureConfig.STSIncludeSubdomains = true
	}

	templates, err := loadTemplates()
	if err != nil {
		return nil, err
	}

	server := &WebServer{
		Router:    router,
		Config:    webconfig,
		Users:     users,
		Secondary: secondary,
		Table:     table,
		templates: templates,
	}

	router.Use(RequestIDMiddleware())
	router.Use(server.ReverseProxyMiddleware())
	if webconfig.Debug {
		router.Use(server.ApacheLogFormat())
		if files, err := ListEmbeddedFiles(); err == nil {
			log.Printf("[WEB]: embedded static files: %v", files)
		}
	}
	router.Use(secure.New(secureConfig))
	router.Use(metrics.Middleware())

	server.setupRoutes()
	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *WebServer) setupRoutes() {
	// Static files first (highest priority)
	s.Router.GET("/static/*filepath", EmbeddedStaticHandler("/static"))
	s.Router.GET("/robots.txt", EmbeddedFileHandler("static/robots.txt"))
	s.Router.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	s.Router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Page and API routes share the per-client rate limit
	limited := s.Router.Group("/")
	if s.Config.RateLimitPerMinute > 0 {
		limited.Use(RateLimitMiddleware(s.Config.RateLimitPerMinute, s.Config.RateLimitBurst))
	}
	limited.GET("/", s.homePage)

	api := limited.Group("/api/v1")
	{
		api.GET("/users", s.getUsers)
		api.GET("/plan", s.getPlan)
	}
	s.Router.GET("/api", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/api/v1/users")
	})

	s.Router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		s.renderError(c, http.StatusNotFound, "Page not found", c.Request.URL.Path)
	})
}

// Start starts the web server with SSL support if configured. It returns http.ErrServerClosed after Shutdown.
func (s *WebServer) Start() error {
	addr := ":" + strconv.Itoa(s.Config.ListenPort)
	s.StartTime = time.Now()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.Config.SSL {
		if s.Config.CertFile == "" || s.Config.KeyFile == "" {
			return errors.New("SSL enabled but cert_file or key_file not specified in config")
		}
		log.Printf("[WEB]: Starting HTTPS server on %s", addr)
		return s.httpServer.ListenAndServeTLS(s.Config.CertFile, s.Config.KeyFile)
	}
	log.Printf("[WEB]: Starting HTTP server on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and waits for running requests until ctx is done
func (s *WebServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ReverseProxyMiddleware handles X-Forwarded headers when running behind a reverse proxy.
// Client IPs are resolved by gin from the trusted proxies list.
func (s *WebServer) ReverseProxyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Handle X-Forwarded-Proto to detect if the original request was HTTPS
		if proto := c.GetHeader("X-Forwarded-Proto"); proto == "https" {
			c.Request.URL.Scheme = "https"
		}

		// Handle X-Forwarded-Host to get the original host
		if host := c.GetHeader("X-Forwarded-Host"); host != "" {
			c.Request.Host = host
		}

		c.Next()
	}
}

func (s *WebServer) ApacheLogFormat() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf(`%s - - [%s] "%s %s %s" %d %d "%s" "%s" %s`+"\n",
			param.ClientIP,
			param.TimeStamp.Format("02/Jan/2006:15:04:05 -0700"),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.BodySize,
			param.Request.Referer(),
			param.Request.UserAgent(),
			param.Request.Header.Get(RequestIDHeader),
		)
	})
}

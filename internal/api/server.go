package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/config"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/state"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/storage"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/threatintel"
)

// Scanner runs one scan end to end, including persistence and alerting.
type Scanner interface {
	Scan(ctx context.Context, a *scanner.Artifact) (*scanner.ScanResult, error)
}

type ResultLookup interface {
	Get(id string) (*scanner.ScanResult, error)
	List(limit int) ([]scanner.ScanResult, error)
}

type FeedUpdater interface {
	Trigger(ctx context.Context) (threatintel.Status, error)
	Status() (threatintel.Status, error)
}

type Deps struct {
	Scanner  Scanner
	Results  ResultLookup
	Recent   *state.ResultCache
	Feeds    FeedUpdater
	Metrics  http.Handler
	Analyzer func() []string
}

type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	deps    Deps
	server  *http.Server
	handler http.Handler
}

func New(cfg config.APIConfig, logger *logging.Logger, deps Deps) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
	}
}

func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}

	s.server = &http.Server{
		Addr:              s.cfg.BindAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("api server starting", logging.F("addr", s.cfg.BindAddr))
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) Handler() http.Handler {
	if s.handler == nil {
		s.handler = s.buildHandler()
	}
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware("elara-api"), s.requestLog())

	for _, prefix := range []string{"", "/api"} {
		g := router.Group(prefix, s.withAuth())
		g.GET("/health", s.handleHealth)
		g.GET("/status", s.handleStatus)
		g.GET("/scans", s.handleScans)
		g.GET("/scans/:id", s.handleScan)
		g.GET("/results/latest", s.handleResultsLatest)
		g.GET("/findings", s.handleFindings)
		g.GET("/feeds/status", s.handleFeedStatus)
		if s.deps.Metrics != nil {
			g.GET("/metrics", gin.WrapH(s.deps.Metrics))
		}

		w := g.Group("", s.writable())
		w.POST("/scan", s.handleScanRequest)
		w.POST("/scan/file", s.handleScanFile)
		w.POST("/feeds/update", s.handleFeedUpdate)
	}
	return router
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("api server stopping")
	return s.server.Shutdown(ctx)
}

func (s *Server) withAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
		if token == "" {
			token = c.Query("token")
		}
		if s.cfg.AuthToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) writable() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.ReadOnly {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "api is read-only"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug("api request",
			logging.F("method", c.Request.Method),
			logging.F("path", c.FullPath()),
			logging.F("status", c.Writer.Status()),
			logging.F("duration", time.Since(started).String()),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	out := gin.H{"status": "running", "read_only": s.cfg.ReadOnly}
	if s.deps.Analyzer != nil {
		out["analyzers"] = s.deps.Analyzer()
	}
	c.JSON(http.StatusOK, out)
}

type scanRequest struct {
	URL  string `json:"url"`
	Text string `json:"text"`
	Name string `json:"name"`
}

func (s *Server) handleScanRequest(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	var (
		artifact *scanner.Artifact
		err      error
	)
	switch {
	case req.URL != "" && req.Text != "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "send either url or text, not both"})
		return
	case req.URL != "":
		artifact, err = scanner.NewURLArtifact(req.URL)
	case req.Text != "":
		name := req.Name
		if name == "" {
			name = "message.txt"
		}
		artifact, err = scanner.NewFileArtifact(name, "text/plain", []byte(req.Text))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "url or text is required"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.runScan(c, artifact)
}

func (s *Server) handleScanFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	if fh.Size > s.cfg.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxUploadBytes)})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mimeType := c.PostForm("mime_type")
	if mimeType == "" {
		mimeType = fh.Header.Get("Content-Type")
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(data).String()
	}
	artifact, err := scanner.NewFileArtifact(fh.Filename, mimeType, data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.runScan(c, artifact)
}

func (s *Server) runScan(c *gin.Context, artifact *scanner.Artifact) {
	if s.deps.Scanner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scanner unavailable"})
		return
	}
	result, err := s.deps.Scanner.Scan(c.Request.Context(), artifact)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scanner.ErrInvalidArtifact) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleScans(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if s.deps.Results == nil {
		c.JSON(http.StatusOK, s.recentHistory(limit))
		return
	}
	results, err := s.deps.Results.List(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) recentHistory(limit int) []state.ResultSummary {
	if s.deps.Recent == nil {
		return []state.ResultSummary{}
	}
	history := s.deps.Recent.History()
	if len(history) > limit {
		history = history[:limit]
	}
	return history
}

func (s *Server) handleScan(c *gin.Context) {
	id := c.Param("id")
	if s.deps.Recent != nil {
		if res, ok := s.deps.Recent.Get(id); ok {
			c.JSON(http.StatusOK, res)
			return
		}
	}
	if s.deps.Results == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
		return
	}
	res, err := s.deps.Results.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleResultsLatest(c *gin.Context) {
	if s.deps.Recent == nil {
		c.JSON(http.StatusOK, []state.ResultSummary{})
		return
	}
	c.JSON(http.StatusOK, s.deps.Recent.Latest())
}

func (s *Server) handleFindings(c *gin.Context) {
	if s.deps.Recent == nil {
		c.JSON(http.StatusOK, []state.FindingSummary{})
		return
	}
	min := scanner.Severity(strings.ToLower(c.DefaultQuery("min_severity", string(scanner.SeverityLow))))
	if min.Rank() < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Recent.FindingsHistory(min))
}

func (s *Server) handleFeedStatus(c *gin.Context) {
	if s.deps.Feeds == nil {
		c.JSON(http.StatusOK, threatintel.Status{Sources: map[string]threatintel.SourceStatus{}})
		return
	}
	status, err := s.deps.Feeds.Status()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleFeedUpdate(c *gin.Context) {
	if s.deps.Feeds == nil {
		c.JSON(http.StatusConflict, gin.H{"error": threatintel.ErrDisabled.Error()})
		return
	}
	status, err := s.deps.Feeds.Trigger(c.Request.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, threatintel.ErrDisabled) {
			code = http.StatusConflict
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

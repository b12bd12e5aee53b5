// Package noteserver exposes a notes.Store over the `/todos` REST contract
// that notes.HTTPStore speaks.
package noteserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rbright/notecap/internal/notes"
)

// Options configures the router.
type Options struct {
	Store          notes.Store
	Token          string
	TrustedProxies []string
	Metrics        http.Handler
	Logger         *slog.Logger
	// Ping backs /api/health; nil always reports healthy.
	Ping func(context.Context) error
}

type server struct {
	store   notes.Store
	token   string
	logger  *slog.Logger
	ping    func(context.Context) error
	created metric.Int64Counter
}

// NewRouter builds the gin engine serving /api and, when provided, /metrics.
func NewRouter(opts Options) (*gin.Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("noteserver: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	created, err := otel.Meter("github.com/rbright/notecap/noteserver").Int64Counter(
		"notecap.server.notes_created",
		metric.WithDescription("Notes created through the local API."),
	)
	if err != nil {
		return nil, err
	}
	srv := &server{
		store:   opts.Store,
		token:   opts.Token,
		logger:  logger,
		ping:    opts.Ping,
		created: created,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), srv.accessLog())
	if len(opts.TrustedProxies) > 0 {
		router.ForwardedByClientIP = true
		if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
			return nil, err
		}
	} else if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	api := router.Group("/api")
	api.GET("/health", srv.health)

	todos := api.Group("/todos", srv.authorize())
	todos.GET("", srv.list)
	todos.POST("", srv.create)
	todos.DELETE("/:id", srv.remove)

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return router, nil
}

// Serve runs the router on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("notes API listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *server) health(c *gin.Context) {
	if s.ping != nil {
		if err := s.ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, errorBody{Error: err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *server) list(c *gin.Context) {
	deviceID := strings.TrimSpace(c.Query("deviceId"))
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, errorBody{Error: "deviceId is required"})
		return
	}
	items, err := s.store.List(c.Request.Context(), deviceID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if items == nil {
		items = []notes.Note{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *server) create(c *gin.Context) {
	var req notes.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	note, err := s.store.Create(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.created.Add(c.Request.Context(), 1, metric.WithAttributes(attribute.String("source", string(note.Source))))
	c.JSON(http.StatusCreated, note)
}

func (s *server) remove(c *gin.Context) {
	if err := s.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, notes.ErrInvalidNote):
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, notes.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		s.logger.Error("notes store failed", "path", c.FullPath(), "error", err.Error())
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (s *server) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

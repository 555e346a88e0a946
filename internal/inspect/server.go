package inspect

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/multibar/networkkit/internal/auth"
	"github.com/multibar/networkkit/pkg/network"
	"github.com/multibar/networkkit/pkg/workstation"
)

// Options configures the inspector.
type Options struct {
	// Verifier checks bearer tokens on /v1 routes. Nil disables
	// authentication.
	Verifier *auth.Signer

	// Key is attached to requests built from submitted work.
	Key *network.Key

	// Tokens signs requests built from submitted work.
	Tokens network.TokenSource

	// Logger receives request and submission events.
	// Default: discards
	Logger *slog.Logger
}

// Server exposes a Workstation over HTTP: its registry, its queue and the
// work submitted through it.
type Server struct {
	ws     *workstation.Workstation
	opts   Options
	engine *gin.Engine

	mu      sync.Mutex
	results map[uuid.UUID]*record
}

// record is work submitted through the server, kept after it leaves the
// registry so its outcome can still be read.
type record struct {
	source   string
	work     workstation.Work
	created  time.Time
	progress network.Progress
}

// New builds the inspector for ws.
func New(ws *workstation.Workstation, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		ws:      ws,
		opts:    opts,
		engine:  gin.New(),
		results: make(map[uuid.UUID]*record),
	}
	s.engine.Use(gin.Recovery(), s.logRequests)

	s.engine.GET("/healthz", s.health)

	v1 := s.engine.Group("/v1", s.authenticate)
	v1.GET("/workers", s.listWorkers)
	v1.GET("/workers/:id", s.getWorker)
	v1.POST("/workers/:id/toggle", s.toggleWorker)
	v1.DELETE("/workers/:id", s.cancelWorker)
	v1.GET("/queue", s.listQueue)
	v1.POST("/work", s.submitWork)
	v1.POST("/cancel", s.cancelRequest)

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("inspector listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.opts.Logger.Debug("inspector request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}

func (s *Server) authenticate(c *gin.Context) {
	if s.opts.Verifier == nil {
		return
	}
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	claims, err := s.opts.Verifier.Verify(token)
	if err != nil {
		s.opts.Logger.Warn("inspector rejected token", "error", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
		return
	}
	c.Set("subject", claims.Subject)
}

// observe records the progress of work submitted through the server.
func (s *Server) observe(out network.Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.results[out.ID]; ok {
		r.progress = out.Progress
	}
}

func (s *Server) result(id uuid.UUID) (WorkerView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	if !ok {
		return WorkerView{}, false
	}
	return newView(id, r.source, r.work, r.created, r.progress), true
}

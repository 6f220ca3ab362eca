package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/infigaming-com/cloudpubsub-transport/web/middleware"
)

// Probe is what the health server reports on. *pubsub.Server satisfies it.
type Probe interface {
	Ready() bool
	Subscriptions() []string
	Patterns() []string
}

type Server struct {
	lg              *zap.Logger
	engine          *gin.Engine
	probe           Probe
	mode            string
	port            int64
	shutdownTimeout time.Duration
	handlers        []gin.HandlerFunc
}

type Option func(*Server)

func defaultServer() *Server {
	return &Server{
		mode:            gin.ReleaseMode,
		port:            8080,
		shutdownTimeout: 15 * time.Second,
	}
}

func WithMode(mode string) Option {
	return func(s *Server) {
		s.mode = mode
	}
}

func WithPort(port int64) Option {
	return func(s *Server) {
		s.port = port
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

func WithCustomHandler(handler gin.HandlerFunc) Option {
	return func(s *Server) {
		s.handlers = append(s.handlers, handler)
	}
}

// NewServer builds the health surface of a worker:
//
//	GET /                 200
//	GET /healthcheck      200
//	GET /readyz           200 once probe is ready, 503 otherwise
//	GET /subscriptions    names of the open subscriptions and routed patterns
func NewServer(lg *zap.Logger, probe Probe, opts ...Option) *Server {
	s := defaultServer()
	if lg == nil {
		lg = zap.L()
	}
	s.lg = lg
	s.probe = probe
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(s.mode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.Use(middleware.CorrelationIdMiddleware())
	s.engine.Use(middleware.AccessLog(lg, "/", "/healthcheck", "/readyz"))
	s.engine.Use(s.handlers...)

	s.engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	s.engine.GET("/healthcheck", func(c *gin.Context) { c.Status(http.StatusOK) })
	s.engine.GET("/readyz", s.ready)
	s.engine.GET("/subscriptions", s.subscriptions)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) ready(c *gin.Context) {
	if s.probe == nil || !s.probe.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func (s *Server) subscriptions(c *gin.Context) {
	names, patterns := []string{}, []string{}
	if s.probe != nil {
		names = append(names, s.probe.Subscriptions()...)
		patterns = append(patterns, s.probe.Patterns()...)
	}
	sort.Strings(names)
	sort.Strings(patterns)
	c.JSON(http.StatusOK, gin.H{"subscriptions": names, "patterns": patterns})
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.lg.Info("starting web server ...", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("fail to listenAndServe: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.lg.Info("shutdown web server ...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("fail to shutdown web server: %w", err)
	}
	s.lg.Info("web server exiting")
	return nil
}

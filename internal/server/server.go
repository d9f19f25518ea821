// Package server exposes a host over HTTP: a JSON API for runs, payloads
// and rewind, and a WebSocket channel that lets an editor push edits and
// receive refresh notifications.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/joeycumines/liveeval/internal/build"
	"github.com/joeycumines/liveeval/internal/store"
)

// Runner is the part of a host the server drives.
type Runner interface {
	Run(ctx context.Context, p build.Project) (int, error)
	Edit(p build.Project)
	SetTheme(theme string)
	Store() *store.Store
	Body() string
}

// Options configures a Server.
type Options struct {
	// Static, if set, is a directory of editor assets served at /.
	Static string
	// MaxMessageSize bounds inbound WebSocket messages. Zero means 1 MiB.
	MaxMessageSize int64
	// PingInterval defaults to 30s; ReadTimeout to twice that.
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Server serves one Runner.
type Server struct {
	runner   Runner
	opts     Options
	log      *slog.Logger
	echo     *echo.Echo
	hub      *Hub
	upgrader websocket.Upgrader

	mu      sync.Mutex
	theme   string
	base    context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New builds a server for r. Call Start, or use Handler with an external
// listener.
func New(r Runner, opts Options) *Server {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 1 << 20
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 2 * opts.PingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelDebug
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			log.LogAttrs(context.Background(), level, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.Any("error", v.Error),
			)
			return nil
		},
	}))

	s := &Server{
		runner: r,
		opts:   opts,
		log:    log,
		echo:   e,
		hub:    NewHub(log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameHost,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/health", s.handleHealth)
	api := s.echo.Group("/api")
	api.POST("/run", s.handleRun)
	api.GET("/payloads", s.handlePayloads)
	api.GET("/status", s.handleStatus)
	api.GET("/contexts", s.handleContexts)
	api.GET("/rewind", s.handleGetRewind)
	api.POST("/rewind", s.handleRewind)
	api.POST("/theme", s.handleTheme)
	s.echo.GET("/ws", s.handleWebSocket)
	if s.opts.Static != "" {
		s.echo.Static("/", s.opts.Static)
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start begins the hub and the refresh pump. It does not listen; pair it
// with Serve, or use ListenAndServe.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.base, s.cancel = context.WithCancel(ctx)
	ctx = s.base
	s.stopped = make(chan struct{})
	go s.hub.Run()
	go func() {
		defer close(s.stopped)
		s.pump(ctx)
	}()
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.echo.Listener = l
	err := s.echo.Start("")
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe starts the server and listens on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.log.Info("playground listening", "addr", l.Addr().String())
	s.Start(ctx)
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(l) }()
	select {
	case err := <-errc:
		s.stop()
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, closes editor connections and waits
// for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	return s.echo.Shutdown(ctx)
}

func (s *Server) stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-stopped
		s.hub.Stop()
	}
}

func (s *Server) ctx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base == nil {
		return context.Background()
	}
	return s.base
}

// pump broadcasts a refresh to every editor on each store notification.
func (s *Server) pump(ctx context.Context) {
	ch, unsubscribe := s.runner.Store().Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			data, err := encode(s.refresh())
			if err != nil {
				s.log.Error("encoding refresh", "error", err)
				continue
			}
			s.hub.Broadcast(data)
		}
	}
}

func sameHost(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

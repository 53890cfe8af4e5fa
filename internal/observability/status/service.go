// Package status serves the optional HTTP surface: liveness, a JSON status
// snapshot, Prometheus metrics and (opt-in) pprof.
package status

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "nelculobot/internal/runtime/supervisor"
	"nelculobot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8080"

var ginMode sync.Once

var ErrInsecureBind = errors.New("status: non-loopback addr requires a token")

type Config struct {
	Enabled bool
	Addr    string
	Token   string
	Pprof   bool
}

// Snapshot is the JSON body of GET /status.
type Snapshot struct {
	Version         string     `json:"version,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	Uptime          string     `json:"uptime"`
	IntervalMinutes int        `json:"interval_minutes"`
	NextFire        *time.Time `json:"next_fire,omitempty"`
	Scheduler       string     `json:"scheduler"`
	Subscribers     int        `json:"subscribers"`
	StoreDriver     string     `json:"store_driver"`
	CycleRunning    bool       `json:"cycle_running"`
	LastCycle       *Cycle     `json:"last_cycle,omitempty"`
}

type Cycle struct {
	ID        string    `json:"id"`
	Trigger   string    `json:"trigger"`
	Outcome   string    `json:"outcome"`
	Title     string    `json:"title,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	At        time.Time `json:"at"`
	Took      string    `json:"took"`
	Total     int       `json:"total"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
}

// Provider builds a fresh snapshot per request.
type Provider func(ctx context.Context) Snapshot

type Service struct {
	mu       sync.Mutex
	log      logx.Logger
	cfg      Config
	provider Provider
	gatherer prometheus.Gatherer

	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, provider Provider, gatherer prometheus.Gatherer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, provider: provider, gatherer: gatherer, log: log.With(logx.String("comp", "status"))}
}

// Addr is the bound listen address, or "" when not running.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start binds the listener and serves in the background. It is a no-op
// when disabled or already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.cfg
	if !cur.Enabled || s.srv != nil {
		return nil
	}
	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if cur.Token == "" && !IsLoopbackAddr(addr) {
		s.log.Error("status refused to start: non-loopback addr requires token", logx.String("addr", addr))
		return ErrInsecureBind
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.handlerFor(cur),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// Optional surface; never take the bot down.
		rtsup.WithCancelOnError(false),
	)
	sup.Go("http.serve", func(c context.Context) error {
		err := srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) || c.Err() != nil {
			return nil
		}
		return err
	})
	sup.Go0("http.shutdown_on_cancel", func(c context.Context) {
		<-c.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	})

	s.ln, s.srv, s.sup = ln, srv, sup
	s.log.Info("status server started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", cur.Pprof), logx.Bool("token_set", cur.Token != ""))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.ln, s.sup = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	_ = srv.Shutdown(ctx)
	_ = srv.Close()
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("status server stopped")
}

// Reconfigure applies cfg, restarting the server when the bind or routes
// change.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
		return nil
	case !running:
		return s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		return s.Start(ctx)
	}
	return nil
}

// Handler builds the gin engine for the current config. Exposed for tests.
func (s *Service) Handler() http.Handler {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	return s.handlerFor(cur)
}

// handlerFor must not take s.mu; Start calls it while holding the lock.
func (s *Service) handlerFor(cur Config) http.Handler {
	ginMode.Do(func() { gin.SetMode(gin.ReleaseMode) })
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	authed := r.Group("/", bearerAuth(cur.Token))
	authed.GET("/status", func(c *gin.Context) {
		if s.provider == nil {
			c.JSON(http.StatusOK, Snapshot{})
			return
		}
		c.JSON(http.StatusOK, s.provider(c.Request.Context()))
	})
	if s.gatherer != nil {
		authed.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	if cur.Pprof {
		pp := authed.Group("/debug/pprof")
		pp.GET("/", gin.WrapF(hpprof.Index))
		pp.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
		pp.GET("/profile", gin.WrapF(hpprof.Profile))
		pp.GET("/symbol", gin.WrapF(hpprof.Symbol))
		pp.GET("/trace", gin.WrapF(hpprof.Trace))
		pp.GET("/:name", func(c *gin.Context) {
			hpprof.Handler(c.Param("name")).ServeHTTP(c.Writer, c.Request)
		})
	}
	return r
}

func (s *Service) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	}
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func bearerAuth(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		if got := c.Query("token"); got != "" && tokenEqual(got, tok) {
			c.Next()
			return
		}
		const p = "Bearer "
		if ah := c.GetHeader("Authorization"); strings.HasPrefix(ah, p) && tokenEqual(strings.TrimSpace(strings.TrimPrefix(ah, p)), tok) {
			c.Next()
			return
		}
		c.Header("WWW-Authenticate", "Bearer")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

func tokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func IsLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

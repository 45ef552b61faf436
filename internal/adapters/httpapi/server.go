// Package httpapi expone el engine de apuestas por HTTP (gin).
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alejandrodnm/battlewager/internal/application/wagering"
	"github.com/alejandrodnm/battlewager/internal/domain"
)

// Engine es lo que los handlers necesitan del facade.
type Engine interface {
	StartBattle(ctx context.Context, req wagering.StartRequest) (wagering.DisplayState, error)
	DisplayState(ctx context.Context, battleID string) (wagering.DisplayState, error)
	PlaceVote(ctx context.Context, battleID, voterID string, side domain.Side, stake int64) (domain.VoteReceipt, error)
	Tick(ctx context.Context, battleID string) (*domain.StateChange, error)
	ForceEnd(ctx context.Context, battleID, reason string) error
	AbortBattle(ctx context.Context, battleID, reason string) error
	RetryFailedPayouts(ctx context.Context, battleID string) error
	VoteOf(battleID, voterID string) (domain.Vote, bool, error)
	ActiveBattles() []string
}

// Config configura el servidor HTTP.
type Config struct {
	Addr            string
	Mode            string // debug | release | test
	ShutdownTimeout time.Duration
}

// Server envuelve el router y el http.Server.
type Server struct {
	cfg    Config
	router *gin.Engine
}

// NewServer crea el servidor con todas las rutas registradas.
func NewServer(cfg Config, engine Engine) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Server{cfg: cfg, router: NewRouter(engine)}
}

// Handler devuelve el router (tests, composición).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run sirve hasta que ctx se cancela y luego hace un shutdown ordenado.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http api listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("httpapi.Run: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi.Run: shutdown: %w", err)
	}
	return nil
}

// NewRouter registra las rutas sobre un gin.Engine nuevo.
func NewRouter(engine Engine) *gin.Engine {
	r := gin.New()
	r.Use(recovery(), requestLogger("/healthz"))

	h := &handler{engine: engine}
	r.GET("/healthz", h.health)

	battles := r.Group("/battles")
	battles.GET("", h.listBattles)
	battles.POST("", h.startBattle)
	battles.GET("/:id", h.getBattle)
	battles.POST("/:id/votes", h.placeVote)
	battles.GET("/:id/votes/:voter", h.getVote)
	battles.POST("/:id/tick", h.tick)
	battles.POST("/:id/end", h.forceEnd)
	battles.POST("/:id/abort", h.abort)
	battles.POST("/:id/payouts/retry", h.retryPayouts)
	return r
}

// recovery convierte un panic en 500 y lo loguea con el stack.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered",
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()),
				)
				fail(c, http.StatusInternalServerError, codeInternal, "internal server error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// requestLogger loguea cada request salvo las rutas indicadas.
func requestLogger(skip ...string) gin.HandlerFunc {
	skipPaths := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipPaths[p] = true
	}
	return func(c *gin.Context) {
		if skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

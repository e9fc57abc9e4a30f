// Package admin serves a read-only HTTP view of a running participant.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/prolink/internal/arbitration"
	"github.com/danmuck/prolink/internal/directory"
	"github.com/danmuck/prolink/internal/observability"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 5 * time.Second
)

// Source is what the surface reads from. *participant.Participant
// satisfies it.
type Source interface {
	Directory() *directory.Directory
	Master() arbitration.State
	DeviceNumber() uint8
}

type Server struct {
	src      Source
	router   *gin.Engine
	logger   zerolog.Logger
	appeared time.Time
}

func New(src Source, corsOrigins []string, logger zerolog.Logger) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		src:      src,
		router:   r,
		logger:   logger,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"uptime":        time.Since(s.appeared).String(),
			"service":       "linkctl",
			"version":       version,
			"device_number": s.src.DeviceNumber(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/devices", func(c *gin.Context) {
		now := time.Now()
		devices := s.src.Directory().All()
		out := make([]deviceView, 0, len(devices))
		for _, d := range devices {
			out = append(out, viewOf(d, now))
		}
		c.JSON(http.StatusOK, gin.H{"devices": out})
	})

	s.router.GET("/devices/:number", func(c *gin.Context) {
		n, err := strconv.ParseUint(c.Param("number"), 10, 8)
		if err != nil || n == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "device number must be 1-255"})
			return
		}
		d, ok := s.src.Directory().Lookup(uint8(n))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		c.JSON(http.StatusOK, viewOf(d, time.Now()))
	})

	s.router.GET("/master", func(c *gin.Context) {
		st := s.src.Master()
		c.JSON(http.StatusOK, gin.H{
			"self":       st.Self,
			"role":       st.Role.String(),
			"master":     st.Master,
			"pending_to": st.PendingTo,
		})
	})
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("admin listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

type deviceView struct {
	Number   uint8     `json:"number"`
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	MAC      string    `json:"mac"`
	IP       string    `json:"ip"`
	LastSeen time.Time `json:"last_seen"`
	Age      string    `json:"age"`
}

func viewOf(d directory.Device, now time.Time) deviceView {
	return deviceView{
		Number:   d.Number,
		Name:     d.Name,
		Type:     d.Type.String(),
		MAC:      d.MAC.String(),
		IP:       d.IP.String(),
		LastSeen: d.LastSeen,
		Age:      now.Sub(d.LastSeen).Round(time.Millisecond).String(),
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

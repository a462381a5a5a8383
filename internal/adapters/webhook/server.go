// Package webhook exposes the TradingView alert endpoint.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"trendbot/internal/app"
	"trendbot/internal/ports"
	"trendbot/internal/signal"
)

const (
	defaultDedupTTL = 15 * time.Minute
	maxBodyBytes    = 64 << 10
	signatureHeader = "X-Signature"
	sourceTV        = "tradingview"
)

// Router is the signal router surface the server needs.
type Router interface {
	Route(ctx context.Context, d signal.Directive) (*app.Result, error)
}

// Config holds webhook server settings.
type Config struct {
	Addr           string
	Secret         string
	Router         Router
	Logger         ports.Logger
	DedupTTL       time.Duration // 0 selects 15 minutes
	RatePerSecond  float64       // per client IP; 0 selects 20
	RateBurst      int           // 0 selects 50
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Payload is the alert body TradingView posts.
type Payload struct {
	Symbol    string  `json:"symbol" binding:"required"`
	Timeframe string  `json:"timeframe" binding:"required"`
	Signal    string  `json:"signal" binding:"required"`
	Price     float64 `json:"price" binding:"required,gt=0"`
	TS        int64   `json:"ts" binding:"required"` // bar time, ms
}

// DedupKey identifies repeated deliveries of one alert.
func (p Payload) DedupKey() string {
	return fmt.Sprintf("%s:%s:%d:%s", strings.ToUpper(p.Symbol), p.Timeframe, p.TS, strings.ToUpper(p.Signal))
}

// Server is the HTTP front of the signal router.
type Server struct {
	cfg      Config
	engine   *gin.Engine
	dedup    *dedupCache
	limiters *ipLimiters
	http     *http.Server
}

// NewServer validates cfg and builds the gin engine.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Router == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for webhook server")
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("webhook secret must be set: %w", ports.ErrConfigurationError)
	}
	if cfg.DedupTTL == 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 20
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 50
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		cfg:      cfg,
		dedup:    newDedupCache(cfg.DedupTTL, cfg.Now),
		limiters: newIPLimiters(cfg.RatePerSecond, cfg.RateBurst),
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestIDMiddleware(), requestLogger(cfg.Logger))
	r.GET("/health", s.health)
	r.POST("/tv/webhook", rateLimitMiddleware(s.limiters, cfg.Logger), timeoutMiddleware(cfg.RequestTimeout), s.tradingView)
	s.engine = r
	return s, nil
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{Addr: s.cfg.Addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errC := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info(ctx, "webhook: Listening", map[string]interface{}{"addr": s.cfg.Addr})
		errC <- s.http.ListenAndServe()
	}()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case err := <-errC:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("webhook server: %w", err)
		case <-ticker.C:
			s.limiters.reset()
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.http.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("webhook shutdown: %w", err)
			}
			return nil
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": s.cfg.Now().UTC().Format(time.RFC3339)})
}

// Sign returns the hex HMAC-SHA256 of body, the value expected in X-Signature.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Server) verify(sig string, body []byte) bool {
	sig = strings.TrimPrefix(strings.TrimSpace(sig), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(s.cfg.Secret, body))
	return hmac.Equal(got, want)
}

func (s *Server) tradingView(c *gin.Context) {
	op := "webhook"
	ctx := c.Request.Context()
	requestID := c.GetString(requestIDKey)

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	sig := c.GetHeader(signatureHeader)
	if sig == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing signature"})
		return
	}
	if !s.verify(sig, raw) {
		s.cfg.Logger.Warn(ctx, op+": Bad signature", map[string]interface{}{"ip": c.ClientIP(), "requestId": requestID})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "bad signature"})
		return
	}

	var p Payload
	if err := binding.JSON.BindBody(raw, &p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad json", "message": err.Error()})
		return
	}

	key := p.DedupKey()
	if !s.dedup.claim(key) {
		s.cfg.Logger.Info(ctx, op+": Duplicate alert ignored", map[string]interface{}{"key": key, "requestId": requestID})
		c.JSON(http.StatusOK, gin.H{"ok": true, "duplicate": true})
		return
	}

	res, err := s.cfg.Router.Route(ctx, signal.Directive{
		Symbol:    p.Symbol,
		Timeframe: p.Timeframe,
		Direction: p.Signal,
		Price:     p.Price,
		BarTime:   time.UnixMilli(p.TS).UTC(),
		Source:    sourceTV,
		Meta:      map[string]string{"requestId": requestID},
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.dedup.release(key)
		}
		s.cfg.Logger.Error(ctx, err, op+": Routing failed", map[string]interface{}{"key": key, "requestId": requestID, "status": status})
		c.JSON(status, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "action": res.Action, "reason": res.Reason, "positionId": res.PositionID})
}

// statusFor maps error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ports.ErrUnknownSymbol):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch ports.KindOf(err) {
	case ports.KindValidation:
		return http.StatusUnprocessableEntity
	case ports.KindVenue:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

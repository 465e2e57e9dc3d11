package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"papertrader/internal/engine"
	"papertrader/internal/feed"
	"papertrader/internal/logger"
	"papertrader/internal/store"
)

// Engine is the part of the engine the HTTP surface drives.
type Engine interface {
	Snapshot() *engine.View
	ToggleBot(ctx context.Context, symbol string) (bool, error)
	ToggleStrategy(ctx context.Context, symbol, id string) (bool, error)
	CloseAll(ctx context.Context, symbol string) (int, error)
	Reset(ctx context.Context) (string, error)
	ImportJSON(ctx context.Context, r io.Reader) (store.MergeStats, error)
	ImportCSV(ctx context.Context, r io.Reader) (store.MergeStats, error)
	SubscribePush(ctx context.Context, token string) error
}

type FeedStatus interface {
	Status() feed.Status
}

type Config struct {
	Addr        string
	JWTSecret   string
	CORSOrigins []string
}

const (
	controlTimeout = 10 * time.Second
	maxImportBody  = 10 << 20
)

type Server struct {
	cfg        Config
	router     *gin.Engine
	httpServer *http.Server
	engine     Engine
	stream     http.HandlerFunc
	feed       FeedStatus
	log        *logger.Logger
}

// NewServer builds the router. stream serves the websocket state stream; feed may be nil.
func NewServer(cfg Config, eng Engine, stream http.HandlerFunc, feed FeedStatus, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		router: router,
		engine: eng,
		stream: stream,
		feed:   feed,
		log:    log,
	}
	router.Use(s.requestLog())
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	s.setupRoutes()
	return s
}

func corsConfig(origins []string) cors.Config {
	conf := cors.DefaultConfig()
	conf.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	conf.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	conf.ExposeHeaders = []string{"Content-Length"}
	for _, o := range origins {
		if o == "*" {
			conf.AllowAllOrigins = true
			return conf
		}
	}
	if len(origins) == 0 {
		conf.AllowAllOrigins = true
		return conf
	}
	conf.AllowOrigins = origins
	return conf
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.stream != nil {
		s.router.GET("/ws", gin.WrapF(s.stream))
	}

	api := s.router.Group("/api")
	api.GET("/state", s.handleState)
	api.GET("/trades.csv", s.handleExportCSV)
	api.POST("/push/subscribe", s.handleSubscribe)

	admin := api.Group("", s.requireAdmin())
	admin.POST("/instruments/:symbol/toggle", s.handleToggleBot)
	admin.POST("/instruments/:symbol/strategies/:strategy/toggle", s.handleToggleStrategy)
	admin.POST("/close", s.handleClose)
	admin.POST("/reset", s.handleReset)
	admin.POST("/import", s.handleImportJSON)
	admin.POST("/import/csv", s.handleImportCSV)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) logEntry() *logrus.Entry {
	return s.log.WithComponent("api")
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	s.logEntry().WithField("addr", s.cfg.Addr).Info("HTTP сервер запущен.")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP сервер: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logEntry().Info("Остановка HTTP сервера.")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/ws" {
			return
		}
		s.logEntry().WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("HTTP запрос.")
	}
}

// requireAdmin checks an HS256 bearer token. With no secret configured every request passes.
func (s *Server) requireAdmin() gin.HandlerFunc {
	secret := []byte(s.cfg.JWTSecret)
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			fail(c, http.StatusUnauthorized, errors.New("нужен токен"))
			return
		}
		_, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("неожиданный метод подписи: %v", token.Header["alg"])
			}
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			s.logEntry().WithError(err).WithField("path", c.Request.URL.Path).Warn("Отклонён запрос с неверным токеном.")
			fail(c, http.StatusUnauthorized, errors.New("неверный токен"))
			return
		}
		c.Next()
	}
}

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"papertrader/internal/engine"
	"papertrader/internal/feed"
	"papertrader/internal/store"
)

type reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func ok(c *gin.Context, extra gin.H) {
	body := gin.H{"ok": true}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func fail(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, reply{OK: false, Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownSymbol), errors.Is(err, engine.ErrUnknownStrategy):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrStopped), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) control(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), controlTimeout)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.feed == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	st := s.feed.Status()
	code := http.StatusOK
	if st.State != feed.StateStreaming {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": st.State, "feed": st})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleExportCSV(c *gin.Context) {
	view := s.engine.Snapshot()
	c.Header("Content-Disposition", `attachment; filename="trades.csv"`)
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)
	if err := store.WriteCSV(c.Writer, view.Trades); err != nil {
		s.logEntry().WithError(err).Warn("Не удалось выгрузить CSV.")
	}
}

func (s *Server) handleToggleBot(c *gin.Context) {
	ctx, cancel := s.control(c)
	defer cancel()
	active, err := s.engine.ToggleBot(ctx, c.Param("symbol"))
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, gin.H{"active": active})
}

func (s *Server) handleToggleStrategy(c *gin.Context) {
	ctx, cancel := s.control(c)
	defer cancel()
	enabled, err := s.engine.ToggleStrategy(ctx, c.Param("symbol"), c.Param("strategy"))
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, gin.H{"enabled": enabled})
}

type closeRequest struct {
	Symbol string `json:"symbol"`
}

func (s *Server) handleClose(c *gin.Context) {
	var req closeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}
	ctx, cancel := s.control(c)
	defer cancel()
	closed, err := s.engine.CloseAll(ctx, req.Symbol)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, gin.H{"closed": closed})
}

func (s *Server) handleReset(c *gin.Context) {
	ctx, cancel := s.control(c)
	defer cancel()
	archive, err := s.engine.Reset(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"archive": archive})
}

func (s *Server) handleImportJSON(c *gin.Context) {
	ctx, cancel := s.control(c)
	defer cancel()
	stats, err := s.engine.ImportJSON(ctx, http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBody))
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, gin.H{"stats": stats})
}

func (s *Server) handleImportCSV(c *gin.Context) {
	ctx, cancel := s.control(c)
	defer cancel()
	stats, err := s.engine.ImportCSV(ctx, http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBody))
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, gin.H{"stats": stats})
}

type subscribeRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Server) handleSubscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := s.control(c)
	defer cancel()
	if err := s.engine.SubscribePush(ctx, req.Token); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, nil)
}

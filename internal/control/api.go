package control

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrBusy is returned by Runner.Start while a crawl is in progress.
var ErrBusy = errors.New("crawl already running")

// Runner starts crawls in the background.
type Runner interface {
	Start(ctx context.Context) (runID string, err error)
}

// Handler serves the operator API.
type Handler struct {
	Control Control
	Runner  Runner
	Tokens  *TokenService
	Logger  *zap.Logger
}

// NewRouter builds the gin engine. Crawl routes require a bearer token when
// tokens is non-nil.
func NewRouter(ctl Control, runner Runner, tokens *TokenService, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{Control: ctl, Runner: runner, Tokens: tokens, Logger: logger.Named("api")}

	router := gin.New()
	router.Use(gin.Recovery())
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	router.GET("/health", h.health)

	crawl := router.Group("/crawl")
	if tokens != nil {
		crawl.Use(AuthMiddleware(*tokens))
	}
	h.RegisterRoutes(crawl)
	return router
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status", h.status)  // GET /crawl/status
	rg.POST("/cancel", h.cancel) // POST /crawl/cancel
	rg.POST("/runs", h.start)    // POST /crawl/runs
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) status(c *gin.Context) {
	p, err := h.Control.Progress(c.Request.Context())
	if err != nil {
		h.Logger.Warn("read progress failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status unavailable"})
		return
	}
	cancel, err := h.Control.CancelRequested(c.Request.Context())
	if err != nil {
		h.Logger.Warn("read cancel flag failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"progress":         p,
		"percent":          p.Percent(),
		"cancel_requested": cancel,
	})
}

func (h *Handler) cancel(c *gin.Context) {
	if err := h.Control.RequestCancel(c.Request.Context()); err != nil {
		h.Logger.Warn("request cancel failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel failed"})
		return
	}
	operator := ""
	if claims := ClaimsFrom(c); claims != nil {
		operator = claims.Operator
	}
	h.Logger.Info("cancel requested", zap.String("operator", operator))
	c.JSON(http.StatusAccepted, gin.H{"status": "cancel requested"})
}

func (h *Handler) start(c *gin.Context) {
	if h.Runner == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "runs cannot be started here"})
		return
	}
	id, err := h.Runner.Start(context.WithoutCancel(c.Request.Context()))
	if errors.Is(err, ErrBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.Logger.Warn("start run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "start failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": id})
}

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gpu-mode/kernelboard/internal/auth"
	"github.com/gpu-mode/kernelboard/internal/summaries"
	"go.uber.org/zap"
)

const (
	queryUseBeta           = "use_beta"
	queryForceRefreshCache = "force_refresh_cache"

	responseCodeSuccess  = 0
	responseCodeInternal = 10000
)

var errMissingSummaries = errors.New("summaries service dependency required")

// SummariesLister serves leaderboard summaries.
type SummariesLister interface {
	List(ctx context.Context, options summaries.ListOptions) (summaries.Response, error)
}

// SessionValidator resolves the signed-in user of a request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// AdminPolicy decides whether a session may use privileged options.
type AdminPolicy interface {
	Allows(claims auth.SessionClaims) bool
}

// Dependencies wires the HTTP handler. Sessions and Admins are optional; without
// them privileged options are always ignored.
type Dependencies struct {
	Summaries SummariesLister
	Sessions  SessionValidator
	Admins    AdminPolicy
	Logger    *zap.Logger
}

// NewHTTPHandler builds the read API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Summaries == nil {
		return nil, errMissingSummaries
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		summaries: deps.Summaries,
		sessions:  deps.Sessions,
		admins:    deps.Admins,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	api := router.Group("/api")
	api.GET("/leaderboard-summaries", handler.handleLeaderboardSummaries)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Cache-Control"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	summaries SummariesLister
	sessions  SessionValidator
	admins    AdminPolicy
	logger    *zap.Logger
}

type envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleLeaderboardSummaries(c *gin.Context) {
	query := c.Request.URL.Query()
	options := summaries.ListOptions{
		UseCache:     query.Has(queryUseBeta),
		ForceRefresh: query.Has(queryForceRefreshCache),
	}
	if options.ForceRefresh && !h.isAdmin(c.Request) {
		h.logger.Info("force refresh ignored for non-admin caller")
		options.ForceRefresh = false
	}

	response, err := h.summaries.List(c.Request.Context(), options)
	if err != nil {
		h.logger.Error("failed to list leaderboard summaries", zap.Error(err), zap.Bool("use_cache", options.UseCache))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "summaries_unavailable",
			"code":    responseCodeInternal,
			"message": "failed to load leaderboard summaries",
		})
		return
	}
	c.JSON(http.StatusOK, envelope{Code: responseCodeSuccess, Message: "Success", Data: response})
}

func (h *httpHandler) isAdmin(request *http.Request) bool {
	if h.sessions == nil || h.admins == nil {
		return false
	}
	claims, err := h.sessions.ValidateRequest(request)
	if err != nil {
		if errors.Is(err, auth.ErrMissingSessionToken) {
			return false
		}
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		return false
	}
	return h.admins.Allows(claims)
}

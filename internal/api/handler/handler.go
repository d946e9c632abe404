// Package handler is the HTTP surface the display layer talks to.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tutorlink/chat/internal/chat"
	"tutorlink/chat/internal/errs"
	"tutorlink/chat/internal/identity"
	"tutorlink/chat/internal/localization"
	"tutorlink/chat/internal/models"
	"tutorlink/chat/pkg/logger"
)

// ChatService is the part of the orchestrator exposed over HTTP.
type ChatService interface {
	Snapshot(ctx context.Context) (chat.View, error)
	LoadAndSelect(ctx context.Context, conversationID int64) error
	SelectConversation(ctx context.Context, conversationID int64) error
	Send(ctx context.Context, text string) (models.Message, error)
}

// SessionService is the identity provider.
type SessionService interface {
	Login(ctx context.Context, token string, r identity.Resolver) (*models.Identity, error)
	Logout()
	Current() *models.Identity
}

type Handler struct {
	Chat     ChatService
	Session  SessionService
	Resolver identity.Resolver
	Stream   *Broadcaster
	Locales  *localization.Localizer
	log      *logger.Logger
}

func NewHandler(chatSvc ChatService, session SessionService, resolver identity.Resolver, stream *Broadcaster, locales *localization.Localizer, log *logger.Logger) *Handler {
	return &Handler{
		Chat:     chatSvc,
		Session:  session,
		Resolver: resolver,
		Stream:   stream,
		Locales:  locales,
		log:      log.Named("http"),
	}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := r.Group("/auth")
	{
		auth.GET("/session", h.GetSession)
		auth.POST("/session", h.Login)
		auth.DELETE("/session", h.Logout)
	}

	c := r.Group("/chat")
	{
		c.GET("/state", h.GetState)
		c.GET("/stream", h.ServeStream)
		c.POST("/conversations/refresh", h.Refresh)
		c.POST("/conversations/:id/select", h.SelectConversation)
		c.POST("/messages", h.SendMessage)
	}
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// errorResponse carries the error class and a text ready for display.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) lang(c *gin.Context) string {
	return h.Locales.Negotiate(c.GetHeader("Accept-Language"))
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}

	kind := errs.Kind(err)
	if kind == "" || kind == "internal" {
		kind = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, errorResponse{
		Error:   kind,
		Message: h.Locales.ErrorText(h.lang(c), err),
	})
}

func (h *Handler) badRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
		Error:   "bad_request",
		Message: h.Locales.GetString(h.lang(c), "error.bad_request"),
	})
}

func statusFor(err error) int {
	var (
		connErr   *errs.ConnectionError
		validErrs validator.ValidationErrors
	)
	switch {
	case errors.Is(err, errs.ErrNoIdentity):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrInvalidConversation), errors.Is(err, errs.ErrEmptyMessage), errors.As(err, &validErrs):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNoActiveConversation):
		return http.StatusConflict
	case errors.Is(err, errs.ErrAckTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrAckRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, chat.ErrStopped), errors.As(err, &connErr):
		return http.StatusServiceUnavailable
	}

	switch errs.Kind(err) {
	case "fetch", "send":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"

	"tutorlink/chat/internal/identity"
)

type loginRequest struct {
	Token string `json:"token" binding:"required"`
}

// GetSession returns the signed-in user.
func (h *Handler) GetSession(c *gin.Context) {
	id := h.Session.Current()
	if id == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
			Error:   "unauthorized",
			Message: h.Locales.GetString(h.lang(c), "error.no_identity"),
		})
		return
	}
	c.JSON(http.StatusOK, id)
}

// Login hands the marketplace bearer token to the agent. Chat follows the
// resulting identity.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c)
		return
	}

	id, err := h.Session.Login(c.Request.Context(), req.Token, h.Resolver)
	if err != nil && isTokenError(err) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
			Error:   "unauthorized",
			Message: h.Locales.GetString(h.lang(c), "error.no_identity"),
		})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, id)
}

// Logout drops the credential; chat is torn down.
func (h *Handler) Logout(c *gin.Context) {
	h.Session.Logout()
	c.Status(http.StatusNoContent)
}

func isTokenError(err error) bool {
	return errors.Is(err, identity.ErrNoUserClaim) ||
		errors.Is(err, jwt.ErrTokenMalformed) ||
		errors.Is(err, jwt.ErrTokenExpired) ||
		errors.Is(err, jwt.ErrTokenSignatureInvalid) ||
		errors.Is(err, jwt.ErrTokenInvalidClaims)
}

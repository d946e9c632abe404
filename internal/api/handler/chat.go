package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tutorlink/chat/internal/chat"
)

// stateResponse is the view plus display texts for any error it carries.
type stateResponse struct {
	chat.View
	Notices map[string]string `json:"notices,omitempty"`
}

func (h *Handler) state(c *gin.Context, status int) {
	v, err := h.Chat.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	lang := h.lang(c)
	notices := map[string]string{}
	for key, e := range map[string]error{
		"directory":  v.DirectoryErr,
		"pane":       v.PaneErr,
		"connection": v.ConnectionErr,
	} {
		if e != nil {
			notices[key] = h.Locales.ErrorText(lang, e)
		}
	}
	if v.Pane == chat.PaneReady && len(v.Messages) == 0 {
		notices["pane"] = h.Locales.GetString(lang, "chat.no_messages")
	}
	if len(notices) == 0 {
		notices = nil
	}

	c.JSON(status, stateResponse{View: v, Notices: notices})
}

// GetState returns the current chat view.
func (h *Handler) GetState(c *gin.Context) {
	h.state(c, http.StatusOK)
}

// Refresh reloads the conversation list, optionally opening active_id once it
// is loaded.
func (h *Handler) Refresh(c *gin.Context) {
	var activeID int64
	if raw := c.Query("active_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.badRequest(c)
			return
		}
		activeID = id
	}

	if err := h.Chat.LoadAndSelect(c.Request.Context(), activeID); err != nil {
		h.fail(c, err)
		return
	}
	h.state(c, http.StatusOK)
}

// SelectConversation opens one conversation and waits for its history.
func (h *Handler) SelectConversation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.badRequest(c)
		return
	}

	if err := h.Chat.SelectConversation(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	h.state(c, http.StatusOK)
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessage sends to the active conversation and returns the confirmed message.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c)
		return
	}

	msg, err := h.Chat.Send(c.Request.Context(), req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

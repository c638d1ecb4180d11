// Package rest exposes a small JSON facade over users, conversations, and
// messages for operator tooling that does not speak the websocket protocol.
package rest

import (
	"context"
	"errors"
	nethttp "net/http"
	"strconv"

	"github.com/TDXCORE/Agent-Test/internal/store"
	"github.com/TDXCORE/Agent-Test/platform/apperr"
	"github.com/TDXCORE/Agent-Test/platform/httpkit"
	"github.com/TDXCORE/Agent-Test/platform/logger"
	"github.com/TDXCORE/Agent-Test/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Sender is the slice of the conversation orchestrator the facade needs:
// outbound operator messages go through it so delivery and events happen.
type Sender interface {
	SendOperatorMessage(ctx context.Context, conversationID uuid.UUID, content string) (*store.Message, error)
}

type Handler struct {
	repo   *store.Repository
	sender Sender
	val    *validator.Validator
	log    *logger.Logger
}

func NewHandler(repo *store.Repository, sender Sender, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{repo: repo, sender: sender, val: val, log: log}
}

// respondError writes errors in the {"detail": "..."} shape the operator
// frontend expects.
func (h *Handler) respondError(c *gin.Context, err error) {
	var appErr *apperr.Error
	status := nethttp.StatusInternalServerError
	detail := "internal server error"
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
		detail = appErr.Message
	}
	if status >= nethttp.StatusInternalServerError {
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"detail": detail})
}

func parsePagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (h *Handler) ListUsers(c *gin.Context) {
	limit, offset := parsePagination(c)
	users, err := h.repo.ListUsers(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, users)
}

func (h *Handler) GetUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.respondError(c, apperr.Validation("invalid user id"))
		return
	}
	user, err := h.repo.GetUserByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, user)
}

func (h *Handler) ListConversations(c *gin.Context) {
	if raw := c.Query("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			h.respondError(c, apperr.Validation("invalid user_id"))
			return
		}
		items, err := h.repo.ListConversationsByUser(c.Request.Context(), userID)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(nethttp.StatusOK, items)
		return
	}

	limit, offset := parsePagination(c)
	items, err := h.repo.ListConversations(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, items)
}

type createConversationRequest struct {
	UserID     uuid.UUID `json:"user_id" validate:"required"`
	Platform   string    `json:"platform" validate:"required"`
	ExternalID string    `json:"external_id" validate:"required"`
}

func (h *Handler) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.val.Struct(req); err != nil {
		h.respondError(c, apperr.Validation("user_id, platform, and external_id are required"))
		return
	}
	conv, err := h.repo.CreateConversation(c.Request.Context(), req.UserID, req.Platform, req.ExternalID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Info("conversation created by operator",
		"operator_id", httpkit.IdentityFrom(c).UserID.String(),
		"conversation_id", conv.ID.String())
	c.JSON(nethttp.StatusCreated, conv)
}

func (h *Handler) ListMessages(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Query("conversation_id"))
	if err != nil {
		h.respondError(c, apperr.Validation("conversation_id is required"))
		return
	}
	limit, offset := parsePagination(c)
	items, err := h.repo.ListMessages(c.Request.Context(), conversationID, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, items)
}

type createMessageRequest struct {
	ConversationID uuid.UUID `json:"conversation_id" validate:"required"`
	Content        string    `json:"content" validate:"required"`
}

func (h *Handler) CreateMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.val.Struct(req); err != nil {
		h.respondError(c, apperr.Validation("conversation_id and content are required"))
		return
	}
	msg, err := h.sender.SendOperatorMessage(c.Request.Context(), req.ConversationID, req.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Info("message sent by operator",
		"operator_id", httpkit.IdentityFrom(c).UserID.String(),
		"message_id", msg.ID.String())
	c.JSON(nethttp.StatusCreated, msg)
}

package rest

import (
	"github.com/TDXCORE/Agent-Test/internal/http"
	"github.com/TDXCORE/Agent-Test/internal/store"
	"github.com/TDXCORE/Agent-Test/platform/logger"
	"github.com/TDXCORE/Agent-Test/platform/validator"

	"github.com/gin-gonic/gin"
)

type Module struct {
	handler *Handler
}

func NewModule(repo *store.Repository, sender Sender, val *validator.Validator, log *logger.Logger) *Module {
	return &Module{handler: NewHandler(repo, sender, val, log)}
}

func (m *Module) Name() string {
	return "rest"
}

// RegisterRoutes mounts each endpoint with and without a trailing slash so
// clients built against either convention work without redirects. Reads are
// public; mutations live in the authenticated group, matching the websocket
// rules.
func (m *Module) RegisterRoutes(ctx *http.RouterContext) {
	h := m.handler

	both := func(group *gin.RouterGroup, method, path string, handler gin.HandlerFunc) {
		group.Handle(method, path, handler)
		group.Handle(method, path+"/", handler)
	}

	both(ctx.API, "GET", "/users", h.ListUsers)
	ctx.API.GET("/users/:id", h.GetUser)

	both(ctx.API, "GET", "/conversations", h.ListConversations)
	both(ctx.Protected, "POST", "/conversations", h.CreateConversation)

	both(ctx.API, "GET", "/messages", h.ListMessages)
	both(ctx.Protected, "POST", "/messages", h.CreateMessage)
}

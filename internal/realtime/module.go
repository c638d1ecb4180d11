package realtime

import (
	nethttp "net/http"

	"github.com/TDXCORE/Agent-Test/internal/http"
	"github.com/TDXCORE/Agent-Test/platform/httpkit"
	"github.com/TDXCORE/Agent-Test/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Module mounts the websocket endpoint and owns the hub lifecycle.
type Module struct {
	hub *Hub
	log *logger.Logger

	upgrader websocket.Upgrader
}

func NewModule(hub *Hub, log *logger.Logger) *Module {
	return &Module{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Operator UIs connect from arbitrary origins; auth happens via
			// the token query parameter, not the Origin header.
			CheckOrigin: func(*nethttp.Request) bool { return true },
		},
	}
}

func (m *Module) Name() string {
	return "realtime"
}

func (m *Module) RegisterRoutes(ctx *http.RouterContext) {
	cfg := ctx.Config
	ctx.Engine.GET("/ws", func(c *gin.Context) {
		userID := uuid.Nil
		authenticated := false
		if rawToken := c.Query("token"); rawToken != "" {
			id, _, err := httpkit.ParseToken(rawToken, cfg)
			if err != nil {
				m.log.Warn("websocket token rejected", "error", err)
			} else {
				userID = id
				authenticated = true
			}
		}

		conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error response.
			m.log.Warn("websocket upgrade failed", "error", err)
			return
		}

		session := newSession(conn, m.hub, userID, authenticated)
		m.hub.register(session)

		go session.writePump()
		go session.readPump()
	})
}

package webhook

import (
	apphttp "github.com/TDXCORE/Agent-Test/internal/http"
	"github.com/TDXCORE/Agent-Test/platform/config"
	"github.com/TDXCORE/Agent-Test/platform/logger"
)

// Module is the provider webhook bounded context implementing http.Module.
type Module struct {
	handler *Handler
}

func NewModule(cfg config.MessagingConfig, ingestor Ingestor, log *logger.Logger) *Module {
	return &Module{handler: NewHandler(cfg, ingestor, log)}
}

func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts the handshake and ingest endpoints. They sit at the
// engine root because the provider's callback URL has no /api prefix.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Engine.GET("/webhook", m.handler.HandleVerify)
	ctx.Engine.POST("/webhook", m.handler.HandleInbound)
}

var _ apphttp.Module = (*Module)(nil)

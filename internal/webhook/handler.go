package webhook

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TDXCORE/Agent-Test/internal/conversation"
	"github.com/TDXCORE/Agent-Test/internal/messaging"
	"github.com/TDXCORE/Agent-Test/internal/store"
	"github.com/TDXCORE/Agent-Test/platform/config"
	"github.com/TDXCORE/Agent-Test/platform/logger"
	"github.com/TDXCORE/Agent-Test/platform/phone"
)

// maxBodySize caps webhook bodies; provider payloads are small.
const maxBodySize = 1 << 20

// Ingestor receives parsed inbound messages. Implemented by the conversation
// orchestrator.
type Ingestor interface {
	Ingest(ctx context.Context, in conversation.Inbound) (*store.Message, error)
}

type Handler struct {
	verifyToken string
	appSecret   string
	ingestor    Ingestor
	log         *logger.Logger
}

func NewHandler(cfg config.MessagingConfig, ingestor Ingestor, log *logger.Logger) *Handler {
	return &Handler{
		verifyToken: cfg.GetWebhookVerifyToken(),
		appSecret:   cfg.GetMessagingAppSecret(),
		ingestor:    ingestor,
		log:         log,
	}
}

// HandleVerify answers the provider's subscription handshake: echo
// hub.challenge when the verify token matches, 403 otherwise.
func (h *Handler) HandleVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken {
		c.String(http.StatusOK, challenge)
		return
	}
	c.String(http.StatusForbidden, "verification failed")
}

// HandleInbound verifies the signature over the raw body, parses the
// envelope, and persists each message before acknowledging. Application
// errors after persistence never surface as non-2xx; only signature
// rejection does.
func (h *Handler) HandleInbound(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
	if err != nil {
		c.String(http.StatusBadRequest, "unreadable body")
		return
	}

	if !messaging.VerifySignature(h.appSecret, body, c.GetHeader("X-Hub-Signature-256")) {
		h.log.Warn("webhook signature rejected", "remote_addr", c.ClientIP())
		c.String(http.StatusForbidden, "invalid signature")
		return
	}

	parsed, err := parsePayload(body)
	if err != nil {
		// Malformed payloads are acknowledged so the provider stops retrying.
		h.log.Error("malformed webhook payload", "error", err.Error())
		c.Status(http.StatusOK)
		return
	}

	for _, msg := range parsed {
		in := conversation.Inbound{
			Party: store.Party{
				Platform:   "whatsapp",
				ExternalID: msg.SenderExternalID,
				Phone:      phone.NormalizeE164(msg.SenderExternalID),
				FullName:   msg.SenderName,
			},
			ExternalMessageID: msg.ExternalMessageID,
			Content:           msg.Content,
			MessageType:       msg.MessageType,
			MediaURL:          msg.MediaURL,
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		if _, err := h.ingestor.Ingest(ctx, in); err != nil {
			cancel()
			h.log.Error("failed to ingest inbound message",
				"external_id", msg.ExternalMessageID, "error", err.Error())
			// The row did not commit; let the provider redeliver.
			c.Status(http.StatusInternalServerError)
			return
		}
		cancel()
	}

	c.Status(http.StatusOK)
}

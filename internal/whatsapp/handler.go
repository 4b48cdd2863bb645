package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/mspsdc/helpdesk/internal/assistant"
	"github.com/mspsdc/helpdesk/internal/delivery"
)

// NonTextReply answers images, voice notes and other non-text messages.
const NonTextReply = "I am here to help you with any form of text queries related to Meghalaya State Public Services Delivery Commission (MSPSDC), " +
	"please ask me anything in that context and I'd be happy to assist you!"

// Channel is the channel name used for sessions and logs.
const Channel = "whatsapp"

// Dispatcher hands a message to the assistant in the background. Go runs
// other reply work under the same shutdown wait.
type Dispatcher interface {
	Dispatch(ctx context.Context, in assistant.Inbound, sender delivery.Sender)
	Go(fn func())
}

// Handler serves the webhook endpoints.
type Handler struct {
	dispatcher    Dispatcher
	sender        delivery.Sender
	appSecret     string
	verifyToken   string
	displayNumber string
	base          context.Context
	now           func() time.Time
}

// HandlerOpts holds parameters for creating a Handler.
type HandlerOpts struct {
	Dispatcher    Dispatcher
	Sender        delivery.Sender
	AppSecret     string
	VerifyToken   string
	DisplayNumber string // only messages to this business number are answered; empty accepts all
	// BaseContext outlives individual webhook requests; background answers
	// run under it. Defaults to context.Background().
	BaseContext context.Context
	Now         func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(opts HandlerOpts) (*Handler, error) {
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("whatsapp: dispatcher is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("whatsapp: sender is required")
	}
	if opts.AppSecret == "" {
		return nil, fmt.Errorf("whatsapp: app secret is required")
	}
	h := &Handler{
		dispatcher:    opts.Dispatcher,
		sender:        opts.Sender,
		appSecret:     opts.AppSecret,
		verifyToken:   opts.VerifyToken,
		displayNumber: opts.DisplayNumber,
		base:          opts.BaseContext,
		now:           opts.Now,
	}
	if h.base == nil {
		h.base = context.Background()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h, nil
}

// Register mounts GET and POST /webhook.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/webhook", h.Verify)
	r.POST("/webhook", h.Receive)
}

// Verify answers Meta's subscription handshake.
func (h *Handler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		log.Info("whatsapp: verification missing parameters")
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Missing parameters"})
		return
	}
	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		log.Warn("whatsapp: verification failed", "mode", mode)
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "Verification failed"})
		return
	}
	log.Info("whatsapp: webhook verified")
	c.String(http.StatusOK, challenge)
}

// Receive handles one webhook delivery. Answers are produced in the
// background so the webhook returns immediately.
func (h *Handler) Receive(c *gin.Context) {
	received := h.now()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Unreadable body"})
		return
	}
	if !VerifySignature(h.appSecret, body, c.GetHeader("X-Hub-Signature-256")) {
		log.Warn("whatsapp: signature verification failed")
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "Invalid signature"})
		return
	}

	ev, err := ParseWebhook(body)
	if err != nil {
		log.Error("whatsapp: bad webhook body", "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid JSON provided"})
		return
	}

	switch ev.Kind {
	case KindStatus:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})

	case KindInvalid:
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Not a WhatsApp API event"})

	case KindNonText:
		log.Info("whatsapp: non-text message", "from", ev.From, "type", ev.MessageType)
		h.dispatcher.Go(func() {
			ctx, cancel := context.WithTimeout(h.base, 15*time.Second)
			defer cancel()
			if err := h.sender.SendText(ctx, ev.From, NonTextReply); err != nil {
				log.Error("whatsapp: send failed", "to", ev.From, "err", err)
			}
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})

	case KindText:
		if h.displayNumber != "" && ev.DisplayNumber != h.displayNumber {
			log.Warn("whatsapp: message for unexpected business number", "display_number", ev.DisplayNumber)
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		h.dispatcher.Dispatch(h.base, assistant.Inbound{
			Channel:    Channel,
			UserID:     ev.From,
			Text:       ev.Text,
			ReceivedAt: received,
		}, h.sender)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

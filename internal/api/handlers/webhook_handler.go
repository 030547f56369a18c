package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// WebhookHandler accepts provider callbacks and enqueues them for the event
// worker pool. Twilio retries on non-2xx, so enqueue failures are the only
// thing allowed to surface.
type WebhookHandler struct {
	Redis  *redis.Client
	Stream string
	Logger *logrus.Logger
}

func NewWebhookHandler(rdb *redis.Client, stream string, log *logrus.Logger) *WebhookHandler {
	if stream == "" {
		stream = "callevents:stream"
	}
	return &WebhookHandler{Redis: rdb, Stream: stream, Logger: log}
}

func (h *WebhookHandler) TwilioStatus(c *gin.Context) {
	h.enqueue(c, "status")
}

func (h *WebhookHandler) TwilioRecording(c *gin.Context) {
	h.enqueue(c, "recording")
}

func (h *WebhookHandler) enqueue(c *gin.Context, eventType string) {
	if err := c.Request.ParseForm(); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	callID := c.Request.PostFormValue("CallSid")
	if callID == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	payload := map[string]string{}
	for k, vs := range c.Request.PostForm {
		if len(vs) > 0 {
			payload[k] = vs[0]
		}
	}
	raw, _ := json.Marshal(payload)

	err := h.Redis.XAdd(c.Request.Context(), &redis.XAddArgs{
		Stream: h.Stream,
		Values: map[string]any{
			"call_id":    callID,
			"event_type": eventType,
			"payload":    string(raw),
		},
	}).Err()
	if err != nil {
		h.Logger.WithError(err).WithField("call_id", callID).Error("failed to enqueue webhook event")
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Status(http.StatusNoContent)
}

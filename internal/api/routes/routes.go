package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/claimwise/voicepipe/internal/api/handlers"
	"github.com/claimwise/voicepipe/internal/api/middleware"
)

type Deps struct {
	Call    *handlers.CallHandler
	Webhook *handlers.WebhookHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Provider callbacks are unauthenticated; Twilio signs, it doesn't bear tokens.
	r.POST("/webhooks/twilio/status", d.Webhook.TwilioStatus)
	r.POST("/webhooks/twilio/recording", d.Webhook.TwilioRecording)

	auth := r.Group("/")
	auth.Use(middleware.JWTAuth())

	auth.POST("/calls", d.Call.Create)
	auth.GET("/calls/:call_id", d.Call.Get)
}

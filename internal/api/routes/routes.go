package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yoockh/yoovoice/internal/api/handlers"
	"github.com/yoockh/yoovoice/internal/api/middleware"
)

type Deps struct {
	Session      *handlers.SessionHandler
	Profile      *handlers.ProfileHandler      // nil without postgres
	Conversation *handlers.ConversationHandler // nil without postgres
	WS           *handlers.WSHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth())

	auth.POST("/interviews", d.Session.Start)
	auth.GET("/interviews/:thread_id", d.Session.Get)
	auth.POST("/interviews/:thread_id/gesture", d.Session.Gesture)
	auth.POST("/interviews/:thread_id/recording/start", d.Session.StartRecording)
	auth.POST("/interviews/:thread_id/recording/stop", d.Session.StopRecording)
	auth.POST("/interviews/:thread_id/recording/cancel", d.Session.CancelRecording)
	auth.POST("/interviews/:thread_id/play/:index", d.Session.Play)
	auth.POST("/interviews/:thread_id/stop", d.Session.Stop)
	auth.POST("/interviews/:thread_id/end", d.Session.End)
	auth.DELETE("/interviews/:thread_id", d.Session.Teardown)
	auth.GET("/interviews/:thread_id/replay", d.Session.Replay)

	if d.Conversation != nil {
		auth.GET("/interviews/:thread_id/transcript", d.Conversation.Transcript)
	}
	if d.Profile != nil {
		auth.GET("/profile/me", d.Profile.Me)
	}

	admin := auth.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	admin.GET("/sessions", d.Session.Active)

	// WebSocket
	auth.GET("/ws/interviews/:thread_id", d.WS.SessionWS)
}

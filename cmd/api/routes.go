package main

import (
	"context"
	"net/http"

	"voip-callkit/internal/httpapi"
	"voip-callkit/internal/rbac"
	"voip-callkit/pkg/logger"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, events *httpapi.EventStream, authMW gin.HandlerFunc, ready func(context.Context) error) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := ready(c.Request.Context()); err != nil {
			logger.FromGin(c).Warn("health check failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/v1/auth/refresh", h.Refresh)

	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireDevice())
	{
		v1.GET("/capabilities", h.Capabilities)

		// PUSH relay
		push := v1.Group("/push")
		push.Use(rbac.RequireAnyRole(rbac.RolePushRelay))
		{
			push.POST("/token", h.DeliverToken)
			push.POST("/incoming", h.ReportIncomingCall)
		}

		// OS call-UI bridge
		ui := v1.Group("/callui")
		ui.Use(rbac.RequireAnyRole(rbac.RoleCallUI))
		{
			ui.POST("/actions", h.HandleAction)
		}

		// Application
		app := v1.Group("")
		app.Use(rbac.RequireAnyRole(rbac.RoleApp))
		{
			app.GET("/events", events.Serve)
			app.GET("/last-call", h.LastCallID)
			app.GET("/voip-token", h.VoIPToken)
			app.GET("/config", h.GetConfig)
			app.PUT("/config", h.UpdateConfig)

			calls := app.Group("/calls/:session_id")
			calls.GET("", h.GetCallData)
			calls.DELETE("", h.ClearCallData)
			calls.GET("/state", h.GetCallState)
			calls.PUT("/state", h.SetCallState)
			calls.POST("/accept", h.AnswerCall)
			calls.POST("/end", h.EndCall)
			calls.POST("/mute", h.SetMute)
		}

		// The app may report a call itself when it received the push directly.
		v1.POST("/calls", rbac.RequireAnyRole(rbac.RoleApp), h.ReportIncomingCall)

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.GET("/calls/:session_id/history", h.CallHistory)
		}
	}
}

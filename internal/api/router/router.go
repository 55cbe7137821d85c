package router

import (
	"context"

	"ai-ats-go/internal/api/handler"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// RegisterRoutes 注册 API 路由
func RegisterRoutes(h *server.Hertz, candidateHandler *handler.CandidateHandler) {
	h.Use(CORS())

	h.GET("/", candidateHandler.HandleStatus)

	api := h.Group("/api")
	api.GET("/health", candidateHandler.HandleHealth)
	api.GET("/stats", candidateHandler.HandleStats)
	api.GET("/models", candidateHandler.HandleModels)

	api.POST("/candidates", candidateHandler.HandleUpload)
	api.GET("/candidates", candidateHandler.HandleList)
	api.DELETE("/candidates/:id", candidateHandler.HandleDelete)

	api.POST("/search", candidateHandler.HandleSearch)
}

// CORS 允许任意来源访问，预检请求直接返回
func CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		origin := string(c.GetHeader("Origin"))
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		c.Header("Vary", "Origin")

		if string(c.Method()) == consts.MethodOptions {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}

package api

import (
	"github.com/gin-gonic/gin"

	"supportbot/internal/auth"
)

// NewRouter wires the HTTP routes. Login, health and the database check are
// public; everything else requires a Bearer token.
func NewRouter(h *Handler, verifier *auth.Verifier) *gin.Engine {
	router := gin.Default()

	router.POST("/api/auth/login", h.Login)
	router.GET("/health", h.Health)
	router.GET("/test_db_connection", h.TestDBConnection)

	authed := router.Group("/")
	authed.Use(AuthMiddleware(verifier))
	{
		authed.POST("/query", h.Query)
		authed.POST("/rag/files", h.UploadFile)
		authed.GET("/rag/files", h.ListFiles)
		authed.DELETE("/rag/files/:filename", h.DeleteFile)
		authed.POST("/rag/restart", h.Restart)
	}

	return router
}

package v1

import (
	"github.com/gin-gonic/gin"

	"jan-server/services/visual-api/internal/interfaces/httpserver/handlers"
)

// Routes encapsulates versioned route registration.
type Routes struct {
	handlers *handlers.Provider
}

func NewRoutes(provider *handlers.Provider) *Routes {
	return &Routes{handlers: provider}
}

// Register attaches all v1 routes under /v1 prefix.
func (r *Routes) Register(router gin.IRouter) {
	group := router.Group("/v1")

	binder := group.Group("/binders/:binderId/visuals")
	binder.POST("", r.handlers.Visual.Upload)
	binder.GET("/:visualId", r.handlers.Visual.GetVisual)
	binder.DELETE("/:visualId", r.handlers.Visual.Delete)
	binder.POST("/:visualId/duplicate", r.handlers.Visual.Duplicate)
	binder.GET("/:visualId/formats/:formatType", r.handlers.Visual.GetFormat)
	binder.GET("/:visualId/manifest", r.handlers.Streaming.Manifest)
	binder.POST("/:visualId/reprocess", r.handlers.Processing.Reprocess)
	binder.POST("/:visualId/process", r.handlers.Processing.Process)

	group.GET("/visuals/:visualId/job", r.handlers.Processing.GetJob)
	group.POST("/visuals/:visualId/restart", r.handlers.Processing.Restart)
}

// RegisterProxy attaches the unversioned HLS proxy. Rewritten manifests link to it directly.
func (r *Routes) RegisterProxy(router gin.IRouter) {
	router.GET("/hlsProxy/:url/:token", r.handlers.Streaming.Proxy)
}

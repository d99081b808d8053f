package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the control-plane router. The same routes are also
// mounted under the UI sub-path so they stay reachable through the proxy in
// post-deployment mode.
func NewRouter(h *Handler, uiPathPrefix string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	registerRoutes(router.Group("/"), h)
	if uiPathPrefix != "" && uiPathPrefix != "/" {
		registerRoutes(router.Group(uiPathPrefix), h)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

func registerRoutes(group *gin.RouterGroup, h *Handler) {
	group.GET("/config", h.GetConfig)
	group.GET("/state", h.GetState)
	group.GET("/help", h.GetHelp)
	group.GET("/stream", h.GetStream)
	group.POST("/deploy", h.PostDeploy)
	group.POST("/uninstall", h.PostUninstall)
}

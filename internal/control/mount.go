package control

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaycore/relaycore/internal/webrtcconn"
)

// Mount installs the control-plane HTTP surface spec.md §4.9 and
// §6 describe (the thin introspection API, the GB28181 publish
// registrar, and the WebRTC signaling endpoints) onto r. rtc may be
// nil on a build with the RTC listener disabled.
func Mount(r *gin.Engine, api *API, gb *GB, rtc *webrtcconn.Handlers) {
	r.Use(allowCORS)

	v1 := r.Group("/api/v1")
	v1.GET("/versions", api.Versions)
	v1.GET("/summaries", api.Summaries)
	v1.GET("/streams", api.Streams)
	v1.GET("/clients", api.Clients)
	v1.GET("/configs", api.Configs)
	v1.GET("/vhosts", api.Vhosts)
	v1.GET("/raw", api.Raw)

	if gb != nil {
		r.POST("/gb/v1/publish", gb.Publish)
	}

	if rtc != nil {
		r.POST("/rtc/v1/publish", rtc.Publish)
		r.POST("/rtc/v1/play", rtc.Play)
	}
}

// allowCORS mirrors SRS's own api CORS policy (srs_app_http_api.cpp):
// every control-plane response is readable from any origin, since
// it's a browser-facing player/dashboard API with no cookie auth.
func allowCORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

package control

import (
	"net/http"
	"os"
	"runtime"

	"github.com/gin-gonic/gin"

	"github.com/relaycore/relaycore/internal/conf"
	"github.com/relaycore/relaycore/internal/source"
)

// API implements the thin HTTP control surface of spec.md §4.9,
// grounded on SRS's SrsGoApiRoot/SrsGoApiVersion/SrsGoApiSummaries/
// SrsGoApiStreams family (srs_app_http_api.cpp): every handler returns
// {"code":0,"server":...,...} and honors an optional ?callback= for
// JSONP the way SRS's own api does.
type API struct {
	conf     *conf.Conf
	registry *source.Registry
}

// NewAPI builds the thin introspection API.
func NewAPI(c *conf.Conf, registry *source.Registry) *API {
	return &API{conf: c, registry: registry}
}

func (a *API) write(c *gin.Context, body gin.H) {
	if cb := c.Query("callback"); cb != "" {
		c.JSONP(http.StatusOK, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// Versions implements GET /api/v1/versions.
func (a *API) Versions(c *gin.Context) {
	a.write(c, gin.H{
		"code": 0,
		"server": gin.H{
			"major": 1, "minor": 0, "revision": 0,
			"version": "1.0.0",
		},
	})
}

// Summaries implements GET /api/v1/summaries.
func (a *API) Summaries(c *gin.Context) {
	a.write(c, gin.H{
		"code": 0,
		"data": gin.H{
			"ok": true,
			"self": gin.H{
				"pid":     os.Getpid(),
				"version": "1.0.0",
				"streams": a.registry.Count(),
			},
			"system": gin.H{
				"cpus":       runtime.NumCPU(),
				"goroutines": runtime.NumGoroutine(),
			},
		},
	})
}

// Streams implements GET /api/v1/streams: the live list of known
// sources, backing the dashboard's stream table.
func (a *API) Streams(c *gin.Context) {
	snap := a.registry.Snapshot()
	streams := make([]gin.H, 0, len(snap))
	for _, s := range snap {
		streams = append(streams, gin.H{
			"id":        s.SourceID,
			"url":       s.URL,
			"publish":   s.Publishing,
			"clients":   s.ConsumerCount,
		})
	}
	a.write(c, gin.H{"code": 0, "streams": streams})
}

// Clients implements GET /api/v1/clients: a flattened view of every
// stream's consumer count, since individual per-connection identity
// lives inside each protocol front-end's resource.Manager rather than
// here.
func (a *API) Clients(c *gin.Context) {
	snap := a.registry.Snapshot()
	total := 0
	for _, s := range snap {
		total += s.ConsumerCount
	}
	a.write(c, gin.H{"code": 0, "clients": total})
}

// Configs implements GET /api/v1/configs: a read-only dump of the
// listener and hook configuration, useful for confirming a reload
// took effect.
func (a *API) Configs(c *gin.Context) {
	a.write(c, gin.H{
		"code": 0,
		"config": gin.H{
			"rtmp":    a.conf.RTMP,
			"httpMux": a.conf.HTTPMux,
			"rtc":     a.conf.RTC,
			"srt":     a.conf.SRT,
			"gb28181": a.conf.GB28181,
			"api":     a.conf.API,
			"hooks":   a.conf.Hooks,
		},
	})
}

// Vhosts implements GET /api/v1/vhosts, listing configured path
// overrides (relaycore has no separate vhost concept; a path name
// doubles as the vhost the way SRS's __defaultVhost__ does when no
// vhost is set).
func (a *API) Vhosts(c *gin.Context) {
	names := make([]string, 0, len(a.conf.Paths))
	for name := range a.conf.Paths {
		names = append(names, name)
	}
	a.write(c, gin.H{"code": 0, "vhosts": names})
}

// Raw implements GET /api/v1/raw: returns the merged path defaults,
// the closest equivalent to SRS's raw-config-dump api without
// reflecting the entire YAML file back out.
func (a *API) Raw(c *gin.Context) {
	a.write(c, gin.H{"code": 0, "pathDefaults": a.conf.PathDefaults})
}

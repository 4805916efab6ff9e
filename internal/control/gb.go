package control

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaycore/relaycore/internal/gb28181"
	"github.com/relaycore/relaycore/internal/streamreq"
)

// gbPublishRequest is the body POST /gb/v1/publish accepts, per
// spec.md §6: GB28181 has no SIP signaling in scope, so a stream path
// must be registered out of band before the device's PS-over-TCP
// connection arrives.
type gbPublishRequest struct {
	Vhost  string `json:"vhost"`
	App    string `json:"app" binding:"required"`
	Stream string `json:"stream" binding:"required"`
	Param  string `json:"param"`
}

// GB wires POST /gb/v1/publish onto gb28181.Server.Register, gated by
// the same Authorize callback every other publish path uses.
type GB struct {
	server    *gb28181.Server
	authorize func(req *streamreq.Request, isPublish bool) error
}

// NewGB builds the GB28181 publish-registration handler.
func NewGB(server *gb28181.Server, authorize func(req *streamreq.Request, isPublish bool) error) *GB {
	return &GB{server: server, authorize: authorize}
}

// Publish implements POST /gb/v1/publish.
func (g *GB) Publish(c *gin.Context) {
	var body gbPublishRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := &streamreq.Request{
		Vhost:    body.Vhost,
		App:      body.App,
		Stream:   body.Stream,
		Param:    body.Param,
		Protocol: "gb28181",
		IP:       c.ClientIP(),
	}

	if g.authorize != nil {
		if err := g.authorize(req, true); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
	}

	g.server.Register(req)
	c.JSON(http.StatusOK, gin.H{"code": 0, "stream": req.URL()})
}

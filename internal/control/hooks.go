package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/relaycore/relaycore/internal/asyncq"
	"github.com/relaycore/relaycore/internal/conf"
	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/streamreq"
)

// hookEvent is the JSON body POSTed to every hook URL, grounded on
// SRS's ISrsHttpHooks request shape (action/client_id/ip/vhost/app/
// stream/param, plus the handful of event-specific fields on_dvr/
// on_hls add).
type hookEvent struct {
	Action   string `json:"action"`
	ClientID string `json:"client_id"`
	IP       string `json:"ip"`
	Vhost    string `json:"vhost"`
	App      string `json:"app"`
	Stream   string `json:"stream"`
	Param    string `json:"param,omitempty"`

	File    string `json:"file,omitempty"`     // on_dvr, on_hls
	TsURL   string `json:"ts_url,omitempty"`   // on_hls
	M3U8    string `json:"m3u8,omitempty"`     // on_hls
	M3U8URL string `json:"m3u8_url,omitempty"` // on_hls
	SeqNo   int    `json:"seq_no,omitempty"`   // on_hls
	Duration int64 `json:"duration,omitempty"` // on_hls, microseconds
}

func eventFromRequest(action string, req *streamreq.Request) hookEvent {
	return hookEvent{
		Action:   action,
		ClientID: req.IP + "/" + req.URL(),
		IP:       req.IP,
		Vhost:    req.Vhost,
		App:      req.App,
		Stream:   req.Stream,
		Param:    req.Param,
	}
}

// Dispatcher POSTs hookEvents to the URLs conf.Hooks lists. on_connect/
// on_publish/on_play run synchronously and gate the caller (any
// non-2xx response from any configured URL rejects the request, the
// same all-must-agree semantics SRS's on_publish/on_play use); every
// other event is fire-and-forget, queued onto an asyncq.Writer so a
// slow or dead hook endpoint never blocks a publisher or player.
type Dispatcher struct {
	hooks  conf.Hooks
	client *http.Client
	async  *asyncq.Writer
	log    logger.Writer
}

// NewDispatcher builds a Dispatcher and starts its async queue.
func NewDispatcher(hooks conf.Hooks, readTimeout time.Duration, queueSize int, log logger.Writer) *Dispatcher {
	d := &Dispatcher{
		hooks:  hooks,
		client: &http.Client{Timeout: readTimeout},
		async:  asyncq.NewWriter(queueSize, log),
		log:    log,
	}
	d.async.Start()
	return d
}

// Close drains the async queue.
func (d *Dispatcher) Close() {
	d.async.Stop()
}

// OnConnect runs the on_connect hooks synchronously; any non-2xx
// response rejects the connection.
func (d *Dispatcher) OnConnect(req *streamreq.Request) error {
	return d.dispatchSync(d.hooks.OnConnect, eventFromRequest("on_connect", req))
}

// OnPublish runs the on_publish hooks synchronously; any non-2xx
// response rejects the publish.
func (d *Dispatcher) OnPublish(req *streamreq.Request) error {
	return d.dispatchSync(d.hooks.OnPublish, eventFromRequest("on_publish", req))
}

// OnPlay runs the on_play hooks synchronously; any non-2xx response
// rejects the play.
func (d *Dispatcher) OnPlay(req *streamreq.Request) error {
	return d.dispatchSync(d.hooks.OnPlay, eventFromRequest("on_play", req))
}

// OnUnpublish/OnStop/OnClose are notification-only: queued async, a
// failure is logged but never surfaced to the caller.
func (d *Dispatcher) OnStop(req *streamreq.Request) {
	d.dispatchAsync(d.hooks.OnStop, eventFromRequest("on_stop", req))
}

func (d *Dispatcher) OnClose(req *streamreq.Request) {
	d.dispatchAsync(d.hooks.OnClose, eventFromRequest("on_close", req))
}

// OnDVR notifies that file has been finalized for req's stream.
func (d *Dispatcher) OnDVR(req *streamreq.Request, file string) {
	ev := eventFromRequest("on_dvr", req)
	ev.File = file
	d.dispatchAsync(d.hooks.OnDVR, ev)
}

// OnHLS notifies that a new TS segment has been written for req's
// stream.
func (d *Dispatcher) OnHLS(req *streamreq.Request, file, tsURL, m3u8, m3u8URL string, seqNo int, duration time.Duration) {
	ev := eventFromRequest("on_hls", req)
	ev.File, ev.TsURL, ev.M3U8, ev.M3U8URL = file, tsURL, m3u8, m3u8URL
	ev.SeqNo = seqNo
	ev.Duration = duration.Microseconds()
	d.dispatchAsync(d.hooks.OnHLS, ev)
}

// dispatchSync POSTs ev to every url, in order, requiring all to
// succeed; it stops at the first failure.
func (d *Dispatcher) dispatchSync(urls []string, ev hookEvent) error {
	for _, u := range urls {
		if err := d.post(u, ev); err != nil {
			return err
		}
	}
	return nil
}

// dispatchAsync queues one POST per url onto the shared async writer.
// Failures are logged, never returned: these hooks are notifications.
func (d *Dispatcher) dispatchAsync(urls []string, ev hookEvent) {
	for _, u := range urls {
		u := u
		d.async.Push(func() error {
			if err := d.post(u, ev); err != nil {
				d.log.Log(logger.Warn, "control: hook %s (%s): %v", ev.Action, u, err)
			}
			return nil
		})
	}
}

func (d *Dispatcher) post(url string, ev hookEvent) error {
	enc, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	res, err := d.client.Post(url, "application/json", bytes.NewReader(enc))
	if err != nil {
		return fmt.Errorf("control: hook POST %s: %w", url, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("control: hook %s replied with status %d", url, res.StatusCode)
	}
	return nil
}

// Package conf holds the YAML-backed configuration of relaycore:
// listener addresses, per-path overrides, authentication and the
// control-plane hook URLs.
package conf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Hooks lists the URLs POSTed for each control-plane event (spec.md
// §4.6). on_close/on_dvr/on_hls are dispatched asynchronously so a
// slow hook never blocks a publisher or player.
type Hooks struct {
	OnConnect         []string `yaml:"onConnect"`
	OnPublish         []string `yaml:"onPublish"`
	OnPlay            []string `yaml:"onPlay"`
	OnDVR             []string `yaml:"onDVR"`
	OnHLS             []string `yaml:"onHLS"`
	OnStop            []string `yaml:"onStop"`
	OnClose           []string `yaml:"onClose"`
	OnForwardBackend  []string `yaml:"onForwardBackend"`
	DiscoverCoWorkers []string `yaml:"discoverCoWorkers"`
}

// RTMPConf configures the RTMP/RTMPS listener.
type RTMPConf struct {
	Listen    string   `yaml:"listen"`
	ListenTLS string   `yaml:"listenTLS"`
	ChunkSize int      `yaml:"chunkSize"`
	MWMsgs    int      `yaml:"mwMsgs"`
	MWSleep   Duration `yaml:"mwSleep"`
	MRSleep   Duration `yaml:"mrSleep"`
}

// HTTPMuxConf configures the HTTP-FLV/TS/AAC/MP3 live-viewer listener.
type HTTPMuxConf struct {
	Listen string `yaml:"listen"`
}

// HLSConf configures the HLS packaging mount (`/{app}/{stream}/
// index.m3u8`), delegated to bluenviron/gohlslib/v2.
type HLSConf struct {
	Listen          string   `yaml:"listen"`
	AlwaysRemux     bool     `yaml:"alwaysRemux"`
	Variant         string   `yaml:"variant"` // mpegts | fmp4 | lowLatency
	SegmentCount    int      `yaml:"segmentCount"`
	SegmentDuration Duration `yaml:"segmentDuration"`
	PartDuration    Duration `yaml:"partDuration"`
	SegmentMaxSize  uint64   `yaml:"segmentMaxSize"`
	Directory       string   `yaml:"directory"`
	MuxerCloseAfter Duration `yaml:"muxerCloseAfter"`
	AllowOrigin     string   `yaml:"allowOrigin"`
}

// RTCConf configures the WebRTC signaling and ICE/UDP listeners.
type RTCConf struct {
	APIListen  string   `yaml:"apiListen"`
	UDPListen  string   `yaml:"udpListen"`
	TCPListen  string   `yaml:"tcpListen"`
	ICEServers []string `yaml:"iceServers"`
}

// SRTConf configures the SRT listener.
type SRTConf struct {
	Listen string `yaml:"listen"`
}

// GB28181Conf configures the GB28181 PS-over-TCP listener.
type GB28181Conf struct {
	Listen       string `yaml:"listen"`
	SignalListen string `yaml:"signalListen"`
}

// APIConf configures the HTTP control API (`/api/v1/*`).
type APIConf struct {
	Listen string `yaml:"listen"`
}

// AuthConf configures how Requests are authenticated.
type AuthConf struct {
	Method        AuthMethod         `yaml:"method"`
	InternalUsers []AuthInternalUser `yaml:"internalUsers"`
	HTTPAddress   string             `yaml:"httpAddress"`
	JWTJWKS       string             `yaml:"jwtJWKS"`
	JWTClaimKey   string             `yaml:"jwtClaimKey"`
}

// Conf is the root configuration.
type Conf struct {
	LogLevel        LogLevel         `yaml:"logLevel"`
	LogDestinations []LogDestination `yaml:"logDestinations"`
	LogFile         string           `yaml:"logFile"`

	RTMP    RTMPConf    `yaml:"rtmp"`
	HTTPMux HTTPMuxConf `yaml:"httpMux"`
	HLS     HLSConf     `yaml:"hls"`
	RTC     RTCConf     `yaml:"rtc"`
	SRT     SRTConf     `yaml:"srt"`
	GB28181 GB28181Conf `yaml:"gb28181"`
	API     APIConf     `yaml:"api"`

	Auth  AuthConf `yaml:"auth"`
	Hooks Hooks    `yaml:"hooks"`

	PathDefaults Path             `yaml:"pathDefaults"`
	Paths        map[string]*Path `yaml:"paths"`
}

func defaultConf() Conf {
	return Conf{
		LogLevel:        LogLevel(1), // info
		LogDestinations: []LogDestination{0},
		RTMP: RTMPConf{
			Listen:    ":1935",
			ChunkSize: 128,
			MWMsgs:    128,
			MWSleep:   Duration(350 * time.Millisecond),
			MRSleep:   Duration(350 * time.Millisecond),
		},
		HTTPMux: HTTPMuxConf{Listen: ":8080"},
		HLS: HLSConf{
			Listen:          ":8888",
			Variant:         "lowLatency",
			SegmentCount:    7,
			SegmentDuration: Duration(1 * time.Second),
			PartDuration:    Duration(200 * time.Millisecond),
			SegmentMaxSize:  50 * 1024 * 1024,
			MuxerCloseAfter: Duration(60 * time.Second),
			AllowOrigin:     "*",
		},
		RTC: RTCConf{
			APIListen: ":1985",
			UDPListen: ":8000",
		},
		SRT:     SRTConf{Listen: ":10080"},
		GB28181: GB28181Conf{Listen: ":9000", SignalListen: ":9001"},
		API:     APIConf{Listen: ":1985"},
		Auth: AuthConf{
			Method:        AuthMethodInternal,
			InternalUsers: DefaultAuthInternalUsers,
		},
		PathDefaults: Path{
			SourceOnDemandStartTimeout: Duration(10 * time.Second),
			SourceOnDemandCloseAfter:   Duration(10 * time.Second),
			JitterAlgo:                 "full",
			QueueSizeMs:                3000,
		},
		Paths: map[string]*Path{},
	}
}

// Load reads and parses the YAML configuration at path, applying
// defaults to anything left unset.
func Load(path string) (*Conf, error) {
	byts, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("conf: reading %s: %w", path, err)
	}

	conf := defaultConf()
	if err := yaml.Unmarshal(byts, &conf); err != nil {
		return nil, fmt.Errorf("conf: parsing %s: %w", path, err)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

func (c *Conf) validate() error {
	if err := c.PathDefaults.validate("~default~"); err != nil {
		return err
	}
	for name, p := range c.Paths {
		if err := p.validate(name); err != nil {
			return err
		}
	}
	return nil
}

// FindPathConf returns the Path settings for name, merging an
// explicit override (if any) on top of PathDefaults. Unset fields on
// the override fall back to the matching PathDefaults field.
func (c *Conf) FindPathConf(name string) *Path {
	merged := c.PathDefaults

	override, ok := c.Paths[name]
	if !ok {
		override, ok = c.Paths["all"]
	}
	if !ok || override == nil {
		return &merged
	}

	if override.Source != "" {
		merged.Source = override.Source
	}
	if override.GopCache != nil {
		merged.GopCache = override.GopCache
	}
	if override.JitterAlgo != "" {
		merged.JitterAlgo = override.JitterAlgo
	}
	if override.QueueSizeMs != 0 {
		merged.QueueSizeMs = override.QueueSizeMs
	}
	if !override.PublishUser.IsEmpty() {
		merged.PublishUser = override.PublishUser
		merged.PublishPass = override.PublishPass
	}
	if len(override.PublishIPs) != 0 {
		merged.PublishIPs = override.PublishIPs
	}
	if !override.ReadUser.IsEmpty() {
		merged.ReadUser = override.ReadUser
		merged.ReadPass = override.ReadPass
	}
	if len(override.ReadIPs) != 0 {
		merged.ReadIPs = override.ReadIPs
	}
	if override.RunOnPublish != "" {
		merged.RunOnPublish = override.RunOnPublish
		merged.RunOnPublishRestart = override.RunOnPublishRestart
	}
	if override.RunOnPlay != "" {
		merged.RunOnPlay = override.RunOnPlay
		merged.RunOnPlayRestart = override.RunOnPlayRestart
	}
	if override.RunOnUnpublish != "" {
		merged.RunOnUnpublish = override.RunOnUnpublish
	}
	if override.RunOnStop != "" {
		merged.RunOnStop = override.RunOnStop
	}
	if override.Forward != "" {
		merged.Forward = override.Forward
	}
	if override.SourceOnDemand {
		merged.SourceOnDemand = true
	}

	return &merged
}

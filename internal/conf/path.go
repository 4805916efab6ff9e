package conf

import "fmt"

// Path holds the per-stream-path settings, applied by matching a
// Request's app/stream against the Paths map key (exact, or "all"
// wildcard as the default fallback, mirroring the teacher's
// pathDefaults/paths split).
type Path struct {
	Source string `yaml:"source"`

	SourceOnDemand             bool     `yaml:"sourceOnDemand"`
	SourceOnDemandStartTimeout Duration `yaml:"sourceOnDemandStartTimeout"`
	SourceOnDemandCloseAfter   Duration `yaml:"sourceOnDemandCloseAfter"`

	PublishUser Credential `yaml:"publishUser"`
	PublishPass Credential `yaml:"publishPass"`
	PublishIPs  IPNetworks `yaml:"publishIPs"`
	ReadUser    Credential `yaml:"readUser"`
	ReadPass    Credential `yaml:"readPass"`
	ReadIPs     IPNetworks `yaml:"readIPs"`

	GopCache      *bool  `yaml:"gopCache"`
	JitterAlgo    string `yaml:"jitterAlgorithm"`
	QueueSizeMs   int64  `yaml:"queueSizeMs"`
	ConsumerATC   bool   `yaml:"consumerAbsoluteTimestamp"`

	RunOnPublish        string `yaml:"runOnPublish"`
	RunOnPublishRestart bool   `yaml:"runOnPublishRestart"`
	RunOnPlay           string `yaml:"runOnPlay"`
	RunOnPlayRestart    bool   `yaml:"runOnPlayRestart"`
	RunOnUnpublish      string `yaml:"runOnUnpublish"`
	RunOnStop           string `yaml:"runOnStop"`

	Forward string `yaml:"forward"`
}

func (pconf *Path) validate(name string) error {
	if (pconf.PublishUser != "" && pconf.PublishPass == "") ||
		(pconf.PublishUser == "" && pconf.PublishPass != "") {
		return fmt.Errorf("path '%s': publishUser and publishPass must be provided together", name)
	}
	if (pconf.ReadUser != "" && pconf.ReadPass == "") ||
		(pconf.ReadUser == "" && pconf.ReadPass != "") {
		return fmt.Errorf("path '%s': readUser and readPass must be provided together", name)
	}
	return nil
}

// GopCacheEnabled resolves the tri-state GopCache override against the
// "on by default" posture, the same default the teacher's gopCache
// directive ships with.
func (pconf *Path) GopCacheEnabled() bool {
	if pconf.GopCache == nil {
		return true
	}
	return *pconf.GopCache
}

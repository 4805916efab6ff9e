package source

import (
	"sync"

	"github.com/relaycore/relaycore/internal/jitter"
	"github.com/relaycore/relaycore/internal/logger"
)

// Registry fetches-or-creates the Source for a given stream URL and
// garbage-collects sources that have been idle past a timeout, per
// spec.md §3 Source lifecycle ("disposed by manager after both empty
// and idle for configurable timeout").
type Registry struct {
	mutex      sync.Mutex
	log        logger.Writer
	gopCache   bool
	jitterAlgo jitter.Algorithm
	sources    map[string]*Source
}

// NewRegistry allocates an empty Registry.
func NewRegistry(log logger.Writer, gopCache bool, jitterAlgo jitter.Algorithm) *Registry {
	return &Registry{
		log:        log,
		gopCache:   gopCache,
		jitterAlgo: jitterAlgo,
		sources:    make(map[string]*Source),
	}
}

// GetOrCreate returns the Source for url, creating it if absent.
func (r *Registry) GetOrCreate(url string) *Source {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if s, ok := r.sources[url]; ok {
		return s
	}
	s := New(url, r.log, r.gopCache, r.jitterAlgo)
	r.sources[url] = s
	return s
}

// Get returns the Source for url, or nil if none exists.
func (r *Registry) Get(url string) *Source {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.sources[url]
}

// CollectIdle removes and returns every Source that has had neither a
// publisher nor a consumer for idleFor, so the caller can notify
// on_stop hooks and drop it from bridges still holding a pointer.
func (r *Registry) CollectIdle(isIdleLongerThan func(s *Source) bool) []*Source {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var collected []*Source
	for url, s := range r.sources {
		if isIdleLongerThan(s) {
			collected = append(collected, s)
			delete(r.sources, url)
		}
	}
	return collected
}

// Count reports the number of live sources.
func (r *Registry) Count() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.sources)
}

// StreamInfo is a read-only snapshot of one Source, for the API's
// GET /api/v1/streams.
type StreamInfo struct {
	URL           string
	Publishing    bool
	ConsumerCount int
	SourceID      string
}

// Snapshot lists every currently-registered source.
func (r *Registry) Snapshot() []StreamInfo {
	r.mutex.Lock()
	sources := make([]*Source, 0, len(r.sources))
	for _, s := range r.sources {
		sources = append(sources, s)
	}
	r.mutex.Unlock()

	out := make([]StreamInfo, 0, len(sources))
	for _, s := range sources {
		out = append(out, StreamInfo{
			URL:           s.URL(),
			Publishing:    s.Publishing(),
			ConsumerCount: s.ConsumerCount(),
			SourceID:      s.SourceID().String(),
		})
	}
	return out
}

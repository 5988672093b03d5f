package core

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	positiveCacheTTL = 30 * time.Second
	negativeCacheTTL = 5 * time.Second
)

// PeerSource answers "which endpoints serve this file". Satisfied by
// tracker.Client.
type PeerSource interface {
	GetPeers(filename string) []string
}

type peerCacheEntry struct {
	peers    []string
	cachedAt time.Time
}

// PeerCache fronts tracker lookups. Results are cached briefly so that
// a burst of downloads for the same file hits the tracker once, and
// "no peers" answers are held shorter so a fresh seeder shows up fast.
// Concurrent lookups for one name are collapsed into a single request.
type PeerCache struct {
	source PeerSource

	mu           sync.Mutex
	cache        map[string]*peerCacheEntry
	singleFlight singleflight.Group
	log          *logrus.Entry
}

func NewPeerCache(source PeerSource) *PeerCache {
	return &PeerCache{
		source: source,
		cache:  make(map[string]*peerCacheEntry),
		log:    logrus.WithField("component", "peercache"),
	}
}

// Lookup returns the known endpoints for filename, consulting the
// tracker on a cache miss. An empty slice means no peers.
func (pc *PeerCache) Lookup(filename string) []string {
	pc.mu.Lock()
	if entry, ok := pc.cache[filename]; ok {
		age := time.Since(entry.cachedAt)
		ttl := positiveCacheTTL
		if len(entry.peers) == 0 {
			ttl = negativeCacheTTL
		}
		if age < ttl {
			peers := entry.peers
			pc.mu.Unlock()
			pc.log.Infof("Cache hit for %s: %d peers (age %v)", filename, len(peers), age.Round(time.Millisecond))
			return peers
		}
	}
	pc.mu.Unlock()

	v, _, _ := pc.singleFlight.Do(filename, func() (interface{}, error) {
		peers := pc.source.GetPeers(filename)
		pc.mu.Lock()
		pc.cache[filename] = &peerCacheEntry{peers: peers, cachedAt: time.Now()}
		pc.mu.Unlock()
		pc.log.Infof("Tracker lookup for %s: %d peers", filename, len(peers))
		return peers, nil
	})
	return v.([]string)
}

// Invalidate drops the cached entry for one filename.
func (pc *PeerCache) Invalidate(filename string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	delete(pc.cache, filename)
}

// Clear drops every cached entry.
func (pc *PeerCache) Clear() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cache = make(map[string]*peerCacheEntry)
}

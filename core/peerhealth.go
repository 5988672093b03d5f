package core

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	peerMaintenanceInterval = 10 * time.Minute
	peerProbeTimeout        = 5 * time.Second
)

// PeerHealth tracks consecutive fetch failures per endpoint. The
// tracker never expires registrations, so dead peers keep showing up
// in GETPEERS answers; the failure counts make that visible and the
// periodic maintenance flushes the peer cache so lookups go back to
// the tracker for fresh state.
type PeerHealth struct {
	cache *PeerCache

	mu       sync.Mutex
	failures map[string]int
	running  bool
	stopCh   chan struct{}
	log      *logrus.Entry
}

func NewPeerHealth(cache *PeerCache) *PeerHealth {
	return &PeerHealth{
		cache:    cache,
		failures: make(map[string]int),
		log:      logrus.WithField("component", "peerhealth"),
	}
}

// OnFailure records a failed chunk fetch against an endpoint and
// returns the consecutive failure count.
func (ph *PeerHealth) OnFailure(endpoint string) int {
	ph.mu.Lock()
	ph.failures[endpoint]++
	count := ph.failures[endpoint]
	ph.mu.Unlock()

	if count > 1 {
		ph.log.Warnf("Peer %s failed %d times in a row", endpoint, count)
	}
	return count
}

// OnSuccess resets the failure counter for an endpoint.
func (ph *PeerHealth) OnSuccess(endpoint string) {
	ph.mu.Lock()
	delete(ph.failures, endpoint)
	ph.mu.Unlock()
}

// Probe checks whether an endpoint currently accepts connections.
func (ph *PeerHealth) Probe(endpoint string) bool {
	conn, err := net.DialTimeout("tcp", endpoint, peerProbeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Snapshot returns a copy of the current failure counts.
func (ph *PeerHealth) Snapshot() map[string]int {
	ph.mu.Lock()
	defer ph.mu.Unlock()
	out := make(map[string]int, len(ph.failures))
	for ep, n := range ph.failures {
		out[ep] = n
	}
	return out
}

// Start begins periodic maintenance: the peer cache is cleared and the
// failure counters reset so stale state cannot pin a peer as dead
// forever.
func (ph *PeerHealth) Start() {
	ph.mu.Lock()
	if ph.running {
		ph.mu.Unlock()
		return
	}
	ph.running = true
	ph.stopCh = make(chan struct{})
	ph.mu.Unlock()

	go ph.maintenanceLoop()
	ph.log.Info("Peer health monitor started")
}

func (ph *PeerHealth) Stop() {
	ph.mu.Lock()
	if !ph.running {
		ph.mu.Unlock()
		return
	}
	ph.running = false
	close(ph.stopCh)
	ph.mu.Unlock()
	ph.log.Info("Peer health monitor stopped")
}

func (ph *PeerHealth) maintenanceLoop() {
	ticker := time.NewTicker(peerMaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ph.stopCh:
			return
		case <-ticker.C:
			ph.runMaintenance()
		}
	}
}

func (ph *PeerHealth) runMaintenance() {
	if ph.cache != nil {
		ph.cache.Clear()
	}
	ph.mu.Lock()
	ph.failures = make(map[string]int)
	ph.mu.Unlock()
	ph.log.Info("Peer maintenance completed")
}

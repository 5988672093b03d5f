package core

import (
	"sync"
	"sync/atomic"
	"testing"
)

type fakePeerSource struct {
	mu    sync.Mutex
	peers map[string][]string
	calls int32
}

func (f *fakePeerSource) GetPeers(filename string) []string {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[filename]
}

func TestPeerCacheHit(t *testing.T) {
	src := &fakePeerSource{peers: map[string][]string{
		"x.bin": {"10.0.0.1:9001", "10.0.0.2:9001"},
	}}
	pc := NewPeerCache(src)

	first := pc.Lookup("x.bin")
	if len(first) != 2 {
		t.Fatalf("first lookup = %v", first)
	}
	second := pc.Lookup("x.bin")
	if len(second) != 2 {
		t.Fatalf("second lookup = %v", second)
	}
	if n := atomic.LoadInt32(&src.calls); n != 1 {
		t.Fatalf("tracker hit %d times, want 1 (second lookup should be cached)", n)
	}
}

func TestPeerCacheNegativeResult(t *testing.T) {
	src := &fakePeerSource{peers: map[string][]string{}}
	pc := NewPeerCache(src)

	if peers := pc.Lookup("missing.bin"); len(peers) != 0 {
		t.Fatalf("lookup of unknown file = %v", peers)
	}
	// Empty answers are cached too, just with a shorter TTL.
	pc.Lookup("missing.bin")
	if n := atomic.LoadInt32(&src.calls); n != 1 {
		t.Fatalf("tracker hit %d times, want 1", n)
	}
}

func TestPeerCacheInvalidate(t *testing.T) {
	src := &fakePeerSource{peers: map[string][]string{"x.bin": {"10.0.0.1:9001"}}}
	pc := NewPeerCache(src)

	pc.Lookup("x.bin")
	pc.Invalidate("x.bin")
	pc.Lookup("x.bin")
	if n := atomic.LoadInt32(&src.calls); n != 2 {
		t.Fatalf("tracker hit %d times, want 2 after invalidation", n)
	}
}

func TestPeerCacheClear(t *testing.T) {
	src := &fakePeerSource{peers: map[string][]string{"x.bin": {"10.0.0.1:9001"}}}
	pc := NewPeerCache(src)

	pc.Lookup("x.bin")
	pc.Clear()
	pc.Lookup("x.bin")
	if n := atomic.LoadInt32(&src.calls); n != 2 {
		t.Fatalf("tracker hit %d times, want 2 after clear", n)
	}
}

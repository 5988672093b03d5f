package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	maxFetchWorkers = 8

	// Per-chunk attempt budget. The first attempt counts, so a chunk
	// is re-queued at most twice.
	maxChunkAttempts = 3

	// Socket receive timeout per read, and wall-clock budget for one
	// whole chunk measured from after the request is written.
	readTimeout   = 5 * time.Second
	chunkDeadline = 10 * time.Second
)

var errChunkDeadline = errors.New("chunk deadline exceeded")

// Registrar announces a locally held file to the tracker. Satisfied by
// tracker.Client.
type Registrar interface {
	RegisterWithRetry(filename, ip string, port int) bool
}

// Leecher fetches a file chunk-by-chunk from a set of peers in
// parallel and reassembles it under DownloadDir.
type Leecher struct {
	Progress    *ProgressRegistry
	Registrar   Registrar
	Health      *PeerHealth
	DownloadDir string

	// Local endpoint, used to filter this node out of peer lists and
	// to re-register completed downloads for seeding.
	LocalIP string
	Port    int

	// OnComplete, when set, runs after a verified fetch. The catalog
	// hook is wired here so the engine stays free of storage concerns.
	OnComplete func(requestName, saveName string, size int64)

	log *logrus.Entry
}

func NewLeecher(progress *ProgressRegistry, registrar Registrar, downloadDir, localIP string, port int) *Leecher {
	return &Leecher{
		Progress:    progress,
		Registrar:   registrar,
		DownloadDir: downloadDir,
		LocalIP:     localIP,
		Port:        port,
		log:         logrus.WithField("component", "leecher"),
	}
}

// fetchState is the shared work source of one fetch: a FIFO of chunk
// indices plus per-chunk attempt counts. A worker that fails a chunk is
// the one that re-queues it, so an index is never queued while another
// worker is fetching it.
type fetchState struct {
	mu       sync.Mutex
	queue    []int64
	attempts map[int64]int
}

func newFetchState(totalChunks int64) *fetchState {
	st := &fetchState{
		queue:    make([]int64, totalChunks),
		attempts: make(map[int64]int, totalChunks),
	}
	for i := range st.queue {
		st.queue[i] = int64(i)
	}
	return st
}

// next pops the oldest pending index and returns its attempt number,
// starting at 0.
func (s *fetchState) next() (idx int64, attempt int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0, 0, false
	}
	idx = s.queue[0]
	s.queue = s.queue[1:]
	attempt = s.attempts[idx]
	s.attempts[idx] = attempt + 1
	return idx, attempt, true
}

// requeue puts a failed index back unless its attempt budget is spent.
func (s *fetchState) requeue(idx int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts[idx] >= maxChunkAttempts {
		return false
	}
	s.queue = append(s.queue, idx)
	return true
}

// Fetch downloads requestName from the given peers and saves it as
// saveName. Failures inside the worker pool are absorbed: the worst
// outcome is a progress entry left unfinished. Only setup failures are
// returned.
func (l *Leecher) Fetch(allPeers []string, requestName, saveName string) error {
	peers := l.filterSelf(allPeers)

	filesize, err := FilesizeFromPeer(peers[0], requestName)
	if err != nil {
		return fmt.Errorf("unable to get filesize for %s from %s: %w", requestName, peers[0], err)
	}
	if filesize == 0 {
		return fmt.Errorf("peer %s does not have %s", peers[0], requestName)
	}

	totalChunks := NumChunks(filesize)
	l.Progress.Start(saveName, requestName, totalChunks)
	l.log.Infof("Fetching %s: %d bytes, %d chunks from %d peers", requestName, filesize, totalChunks, len(peers))

	if err := os.MkdirAll(l.DownloadDir, 0755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	outPath := filepath.Join(l.DownloadDir, saveName)
	cf, err := CreateChunkFile(outPath)
	if err != nil {
		return err
	}

	st := newFetchState(totalChunks)
	workers := len(peers)
	if workers > maxFetchWorkers {
		workers = maxFetchWorkers
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.worker(peers, requestName, saveName, filesize, cf, st)
		}()
	}
	wg.Wait()

	if err := cf.Close(); err != nil {
		l.log.Errorf("Close output file %s: %v", outPath, err)
	}

	l.finish(outPath, requestName, saveName, filesize)
	return nil
}

// filterSelf removes this node's own endpoint from the peer list. An
// emptied list gets the self endpoint back so the fetch still runs
// instead of deadlocking; it can only succeed if this process is
// seeding the file itself.
func (l *Leecher) filterSelf(allPeers []string) []string {
	self := net.JoinHostPort(l.LocalIP, strconv.Itoa(l.Port))
	peers := make([]string, 0, len(allPeers))
	for _, p := range allPeers {
		if p != self {
			peers = append(peers, p)
		}
	}
	if len(peers) == 0 {
		peers = append(peers, self)
	}
	return peers
}

func (l *Leecher) worker(peers []string, requestName, saveName string, filesize int64, cf *ChunkFile, st *fetchState) {
	for {
		idx, attempt, ok := st.next()
		if !ok {
			return
		}

		// Index-based round-robin; retries rotate to the next peer so
		// a chunk stranded on a dead endpoint can still be delivered.
		peer := peers[(int(idx)+attempt)%len(peers)]

		data, err := fetchChunk(peer, requestName, idx, filesize)
		if err == nil {
			err = cf.WriteChunk(idx*ChunkSize, data)
		}

		if err != nil {
			if l.Health != nil {
				l.Health.OnFailure(peer)
			}
			if st.requeue(idx) {
				l.log.Warnf("Chunk %d from %s failed: %v. Re-queuing", idx, peer, err)
			} else {
				l.log.Errorf("Chunk %d failed %d times. Giving up: %v", idx, maxChunkAttempts, err)
			}
			continue
		}

		if l.Health != nil {
			l.Health.OnSuccess(peer)
		}
		completed, finished := l.Progress.Complete(saveName)
		l.log.Infof("Chunk %d from %s (%d bytes, %d done)", idx, peer, len(data), completed)
		if finished {
			l.log.Infof("All %d chunks of %s received", completed, requestName)
		}
	}
}

// finish verifies the assembled file and, when the size checks out,
// re-registers it with the tracker so this node becomes a seeder.
func (l *Leecher) finish(outPath, requestName, saveName string, filesize int64) {
	fi, err := os.Stat(outPath)
	if err != nil {
		l.log.Errorf("Could not stat %s for verification: %v", outPath, err)
		return
	}
	if fi.Size() != filesize {
		l.log.Warnf("File size mismatch for %s: expected %d, got %d. Not registering", saveName, filesize, fi.Size())
		return
	}

	if !VerifyFileIntegrity(outPath, filesize) {
		return
	}
	l.log.Infof("Download of %s complete, saved as %s", requestName, saveName)

	if l.OnComplete != nil {
		l.OnComplete(requestName, saveName, filesize)
	}

	if l.Registrar == nil {
		return
	}
	go func() {
		if l.Registrar.RegisterWithRetry(requestName, l.LocalIP, l.Port) {
			l.log.Infof("Registered downloaded file %s for seeding", requestName)
		} else {
			l.log.Errorf("Failed to register downloaded file %s", requestName)
		}
	}()
}

// FilesizeFromPeer asks a peer for the size of a file. 0 with a nil
// error means the peer does not have the file.
func FilesizeFromPeer(endpoint, name string) (int64, error) {
	conn, err := net.DialTimeout("tcp", endpoint, readTimeout)
	if err != nil {
		return 0, fmt.Errorf("connect %s: %w", endpoint, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s %s\n", CmdFilesize, name); err != nil {
		return 0, fmt.Errorf("send filesize request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	line, err := readLine(bufio.NewReader(conn))
	if err != nil {
		return 0, err
	}
	size, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad filesize response %q: %w", line, err)
	}
	return size, nil
}

// fetchChunk requests one chunk and reads until the expected byte count
// arrives. Short reads, timeouts and transport errors all surface as
// errors; the caller decides about re-queuing.
func fetchChunk(endpoint, name string, idx, filesize int64) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", endpoint, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", endpoint, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s %s %d\n", CmdSendChunk, name, idx); err != nil {
		return nil, fmt.Errorf("send chunk request: %w", err)
	}

	_, need := ChunkSpan(idx, filesize)
	buf := make([]byte, need)
	var got int64
	start := time.Now()

	for got < need {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := conn.Read(buf[got:])
		got += int64(n)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read chunk %d: %w", idx, err)
		}
		if time.Since(start) > chunkDeadline {
			return nil, errChunkDeadline
		}
	}

	if got != need {
		return nil, fmt.Errorf("incomplete chunk %d: %d/%d bytes", idx, got, need)
	}
	return buf, nil
}

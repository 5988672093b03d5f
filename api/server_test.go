package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"peerbox-core/core"
	"peerbox-core/db"
	"peerbox-core/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPeerSource struct {
	peers map[string][]string
}

func (s *staticPeerSource) GetPeers(filename string) []string {
	return s.peers[filename]
}

func newTestServer(t *testing.T, peers map[string][]string) *Server {
	t.Helper()

	base := t.TempDir()
	sharedDir := filepath.Join(base, "shared_files")
	downloadDir := filepath.Join(base, "downloads")
	require.NoError(t, os.MkdirAll(sharedDir, 0755))
	require.NoError(t, os.MkdirAll(downloadDir, 0755))

	database, err := db.InitDB(filepath.Join(base, "peerbox.db"))
	require.NoError(t, err)

	progress := core.NewProgressRegistry()
	trackerClient := tracker.NewClient("127.0.0.1:1") // unused unless a test shares
	peerCache := core.NewPeerCache(&staticPeerSource{peers: peers})
	leecher := core.NewLeecher(progress, trackerClient, downloadDir, "127.0.0.1", 1)

	return NewServer(database, leecher, progress, peerCache, trackerClient, sharedDir, downloadDir, "127.0.0.1", 1)
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Router.ServeHTTP(w, req)
	return w
}

func postForm(s *Server, path string, form url.Values) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.Router.ServeHTTP(w, req)
	return w
}

func TestIndexPage(t *testing.T) {
	s := newTestServer(t, nil)

	w := get(s, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "action='/share'")
	assert.Contains(t, w.Body.String(), "action='/download'")
}

func TestProgressJSON(t *testing.T) {
	s := newTestServer(t, nil)
	s.Progress.Start("file.bin", "file.bin", 4)
	s.Progress.Complete("file.bin")

	w := get(s, "/api/progress")
	require.Equal(t, http.StatusOK, w.Code)

	var snapshot map[string]core.DownloadProgress
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	entry, ok := snapshot["file.bin"]
	require.True(t, ok)
	assert.Equal(t, int64(4), entry.TotalChunks)
	assert.Equal(t, int64(1), entry.CompletedChunks)
	assert.False(t, entry.Finished)
}

func TestProgressPage(t *testing.T) {
	s := newTestServer(t, nil)

	w := get(s, "/progress")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "No active downloads")

	s.Progress.Start("file.bin", "file.bin", 2)
	w = get(s, "/progress")
	assert.Contains(t, w.Body.String(), "file.bin")
	assert.Contains(t, w.Body.String(), "0/2 chunks")
}

func TestDownloadNoPeers(t *testing.T) {
	s := newTestServer(t, nil)

	w := postForm(s, "/download", url.Values{"filename": {"ghost.bin"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no peers found")
}

func TestDownloadMissingFilename(t *testing.T) {
	s := newTestServer(t, nil)

	w := postForm(s, "/download", url.Values{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestShareMissingFile(t *testing.T) {
	s := newTestServer(t, nil)

	w := postForm(s, "/share", url.Values{"filename": {"/does/not/exist.bin"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAvailablePage(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(s.SharedDir, "seed.bin"), bytes.Repeat([]byte("a"), 2048), 0644))

	w := get(s, "/available")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "seed.bin")
}

func TestConfigRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)

	w := get(s, "/api/config")
	require.Equal(t, http.StatusOK, w.Code)
	var settings db.Settings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &settings))
	assert.Equal(t, "127.0.0.1:8000", settings.TrackerAddr)

	body, _ := json.Marshal(db.Settings{TrackerAddr: "10.0.0.9:8000"})
	req := httptest.NewRequest(http.MethodPost, "/api/config", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// The live tracker client follows the setting.
	assert.Equal(t, "10.0.0.9:8000", s.Tracker.Addr)
}

func TestShareRegistersWithTracker(t *testing.T) {
	trackerSrv := startTracker(t)
	s := newTestServer(t, nil)
	s.Tracker.Addr = trackerSrv.Addr()
	s.P2PPort = 9001

	src := filepath.Join(t.TempDir(), "pub.bin")
	require.NoError(t, os.WriteFile(src, bytes.Repeat([]byte("x"), 4096), 0644))

	require.NoError(t, s.ShareFile(src))

	// Copied into the shared directory.
	_, err := os.Stat(filepath.Join(s.SharedDir, "pub.bin"))
	require.NoError(t, err)

	// Advertised under this node's endpoint.
	assert.Equal(t, []string{"127.0.0.1:9001"}, trackerSrv.Peers("pub.bin"))

	// Recorded in the catalog.
	var rec db.SharedFile
	require.NoError(t, s.DB.Where("name = ?", "pub.bin").First(&rec).Error)
	assert.Equal(t, int64(4096), rec.Size)
}

func startTracker(t *testing.T) *tracker.Server {
	t.Helper()
	srv := tracker.NewServer()
	require.NoError(t, srv.Listen(0))
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv
}

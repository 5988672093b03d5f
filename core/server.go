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
	"strings"

	"github.com/sirupsen/logrus"
)

// PeerServer answers FILESIZE and SENDCHUNK requests from other peers.
// Each accepted connection carries exactly one request; the connection
// is closed once the response bytes are written.
type PeerServer struct {
	SharedDir   string
	DownloadDir string

	ln  net.Listener
	log *logrus.Entry
}

func NewPeerServer(sharedDir, downloadDir string) *PeerServer {
	return &PeerServer{
		SharedDir:   sharedDir,
		DownloadDir: downloadDir,
		log:         logrus.WithField("component", "server"),
	}
}

// Listen binds the data-plane listener. Port 0 picks an ephemeral port;
// use Port to read the assigned one.
func (s *PeerServer) Listen(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("bind data-plane listener: %w", err)
	}
	s.ln = ln
	s.log.Infof("Listening on port %d", s.Port())
	return nil
}

func (s *PeerServer) Port() int {
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Serve accepts connections until the listener is closed. A bad session
// never takes the server down.
func (s *PeerServer) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *PeerServer) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// resolveFile maps an incoming filename onto the local search path:
// shared_files first, then downloads, then the working directory. When
// nothing exists the nominal downloads path is returned so that size
// queries answer 0 instead of failing the session. Names with path
// separators or dot-dot components are rejected outright.
func (s *PeerServer) resolveFile(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == ".." || name == "." {
		return "", fmt.Errorf("invalid filename %q", name)
	}

	shared := filepath.Join(s.SharedDir, name)
	if _, err := os.Stat(shared); err == nil {
		return shared, nil
	}

	dl := filepath.Join(s.DownloadDir, name)
	if _, err := os.Stat(dl); err == nil {
		return dl, nil
	}

	if _, err := os.Stat(name); err == nil {
		return name, nil
	}

	return dl, nil
}

func (s *PeerServer) handleConn(conn net.Conn) {
	defer conn.Close()

	line, err := readLine(bufio.NewReader(conn))
	if err != nil {
		s.log.Warnf("Bad request from %s: %v", conn.RemoteAddr(), err)
		return
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case CmdFilesize:
		if len(fields) != 2 {
			s.log.Warnf("Malformed FILESIZE request: %q", line)
			return
		}
		s.handleFilesize(conn, fields[1])
	case CmdSendChunk:
		if len(fields) != 3 {
			s.log.Warnf("Malformed SENDCHUNK request: %q", line)
			return
		}
		idx, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil || idx < 0 {
			s.log.Warnf("Bad chunk index in request: %q", line)
			return
		}
		s.handleSendChunk(conn, fields[1], idx)
	default:
		// Legacy: a bare filename means "stream the whole file".
		s.handleFullFile(conn, fields[0])
	}
}

func (s *PeerServer) handleFilesize(conn net.Conn, name string) {
	var size int64
	path, err := s.resolveFile(name)
	if err != nil {
		s.log.Warnf("FILESIZE %s rejected: %v", name, err)
	} else if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}

	if _, err := fmt.Fprintf(conn, "%d\n", size); err != nil {
		s.log.Warnf("FILESIZE %s: write failed: %v", name, err)
		return
	}
	s.log.Infof("FILESIZE %s: %d bytes", name, size)
}

func (s *PeerServer) handleSendChunk(conn net.Conn, name string, idx int64) {
	path, err := s.resolveFile(name)
	if err != nil {
		s.log.Warnf("SENDCHUNK %s rejected: %v", name, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.log.Errorf("File not found: %s", path)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		s.log.Errorf("Stat %s: %v", path, err)
		return
	}

	offset, need := ChunkSpan(idx, fi.Size())
	if need == 0 {
		s.log.Errorf("Chunk index %d out of bounds for %s", idx, path)
		return
	}

	buf := make([]byte, need)
	got, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		s.log.Errorf("Read chunk %d of %s: %v", idx, path, err)
		return
	}

	if _, err := conn.Write(buf[:got]); err != nil {
		s.log.Warnf("Send chunk %d of %s: %v", idx, name, err)
		return
	}
	s.log.Infof("Sent chunk %d of %s (%d bytes)", idx, name, got)
}

func (s *PeerServer) handleFullFile(conn net.Conn, name string) {
	path, err := s.resolveFile(name)
	if err != nil {
		s.log.Warnf("Full-file request for %s rejected: %v", name, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.log.Errorf("File not found: %s", path)
		return
	}
	defer f.Close()

	var total int64
	buf := make([]byte, ChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				s.log.Warnf("Send full file %s: %v", name, werr)
				return
			}
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			s.log.Errorf("Read %s: %v", path, err)
			return
		}
	}
	s.log.Infof("Sent full file %s (%d bytes)", name, total)
}

// Package tracker implements the central directory service peers use
// to find each other, plus the client side of its wire protocol. The
// registry maps filenames to the endpoints advertising them; endpoints
// are never expired.
package tracker

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultPort is the well-known tracker port.
const DefaultPort = 8000

// Server answers REGISTER and GETPEERS over line-oriented TCP.
// Sessions run concurrently and synchronize on one registry mutex.
type Server struct {
	mu       sync.Mutex
	registry map[string][]string

	ln  net.Listener
	log *logrus.Entry
}

func NewServer() *Server {
	return &Server{
		registry: make(map[string][]string),
		log:      logrus.WithField("component", "tracker"),
	}
}

func (s *Server) Listen(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("bind tracker listener: %w", err)
	}
	s.ln = ln
	s.log.Infof("Listening on port %d", s.Port())
	return nil
}

func (s *Server) Port() int {
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *Server) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.Port())
}

// Serve accepts sessions until the listener is closed. A bad session is
// logged and the next one accepted.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleSession(conn)
	}
}

func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// Register adds endpoint to the advertisement set for filename,
// keeping insertion order and skipping duplicates. Returns whether the
// endpoint was newly added.
func (s *Server) Register(filename, endpoint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.registry[filename] {
		if p == endpoint {
			return false
		}
	}
	s.registry[filename] = append(s.registry[filename], endpoint)
	return true
}

// Peers returns a copy of the endpoints advertising filename, in
// insertion order.
func (s *Server) Peers(filename string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.registry[filename]...)
}

func (s *Server) handleSession(conn net.Conn) {
	defer conn.Close()

	line, err := readLine(bufio.NewReader(conn))
	if err != nil {
		s.log.Warnf("Session error from %s: %v", conn.RemoteAddr(), err)
		return
	}

	fields := strings.Fields(line)
	if len(fields) == 4 && fields[0] == "REGISTER" {
		filename, ip := fields[1], fields[2]
		port, err := strconv.Atoi(fields[3])
		if err != nil || port < 0 || port > 65535 {
			s.writeLine(conn, "ERROR Unknown command")
			return
		}
		endpoint := net.JoinHostPort(ip, strconv.Itoa(port))
		s.Register(filename, endpoint)
		s.writeLine(conn, "OK")
		s.log.Infof("REGISTER %s <- %s", filename, endpoint)
		return
	}

	if len(fields) == 2 && fields[0] == "GETPEERS" {
		filename := fields[1]
		peers := s.Peers(filename)
		s.writeLine(conn, strings.Join(peers, ";"))
		s.log.Infof("GETPEERS %s -> %d peers", filename, len(peers))
		return
	}

	s.writeLine(conn, "ERROR Unknown command")
}

func (s *Server) writeLine(conn net.Conn, line string) {
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		s.log.Warnf("Write to %s failed: %v", conn.RemoteAddr(), err)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

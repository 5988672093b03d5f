package tracker

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	dialTimeout      = 5 * time.Second
	registerAttempts = 3
	registerBackoff  = 1 * time.Second
)

// Client talks to one tracker. The zero failure mode everywhere is
// silence: a failed register reads as false, a failed lookup as an
// empty peer list.
type Client struct {
	Addr string

	log *logrus.Entry
}

func NewClient(addr string) *Client {
	return &Client{
		Addr: addr,
		log:  logrus.WithField("component", "tracker-client"),
	}
}

// Register announces that this node serves filename at ip:port. True
// only when the tracker answered OK.
func (c *Client) Register(filename, ip string, port int) bool {
	line, err := c.roundTrip(fmt.Sprintf("REGISTER %s %s %d", filename, ip, port))
	if err != nil {
		c.log.Warnf("Register %s with %s failed: %v", filename, c.Addr, err)
		return false
	}
	return line == "OK"
}

// RegisterWithRetry retries a failed Register a couple of times with a
// pause in between, for trackers that are still coming up.
func (c *Client) RegisterWithRetry(filename, ip string, port int) bool {
	for i := 0; i < registerAttempts; i++ {
		if c.Register(filename, ip, port) {
			return true
		}
		time.Sleep(registerBackoff)
	}
	return false
}

// GetPeers returns the endpoints currently advertising filename. An
// unreachable tracker is indistinguishable from "no peers".
func (c *Client) GetPeers(filename string) []string {
	line, err := c.roundTrip(fmt.Sprintf("GETPEERS %s", filename))
	if err != nil {
		c.log.Warnf("GetPeers %s from %s failed: %v", filename, c.Addr, err)
		return nil
	}

	var peers []string
	for _, p := range strings.Split(line, ";") {
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

// roundTrip sends one request line and reads one response line.
func (c *Client) roundTrip(request string) (string, error) {
	conn, err := net.DialTimeout("tcp", c.Addr, dialTimeout)
	if err != nil {
		return "", fmt.Errorf("connect tracker %s: %w", c.Addr, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", request); err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(dialTimeout))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

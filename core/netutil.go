package core

import (
	"net"
	"os"

	"github.com/sirupsen/logrus"
)

// LocalIP discovers the address of the interface that routes to the
// internet. Connecting a UDP socket sends no packet; it only selects a
// source address. Falls back to loopback when the host is offline.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:53")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// FreePort asks the kernel for an unused TCP port. The port is released
// before returning, so a racing process could grab it first.
func FreePort() (int, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// VerifyFileIntegrity checks that the file has the expected size and
// scans it for 4 KiB blocks of zeros. Zero blocks are only reported —
// they can be legitimate file content, but after a chunked download
// they usually mean a chunk never arrived.
func VerifyFileIntegrity(path string, expectedSize int64) bool {
	log := logrus.WithField("component", "verify")

	f, err := os.Open(path)
	if err != nil {
		log.Errorf("Cannot open file for verification: %s", path)
		return false
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		log.Errorf("Stat %s: %v", path, err)
		return false
	}
	if fi.Size() != expectedSize {
		log.Errorf("File size mismatch: expected %d, got %d", expectedSize, fi.Size())
		return false
	}

	buf := make([]byte, 4096)
	var totalRead int64
	for {
		n, err := f.Read(buf)
		if n == 0 {
			break
		}

		allZeros := true
		for i := 0; i < n; i++ {
			if buf[i] != 0 {
				allZeros = false
				break
			}
		}
		if allZeros && n == len(buf) {
			log.Warnf("Found block of all zeros at offset %d in %s", totalRead, path)
		}

		totalRead += int64(n)
		if err != nil {
			break
		}
	}

	log.Infof("File integrity verified: %s (%d bytes)", path, totalRead)
	return true
}

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"peerbox-core/db"

	"github.com/gin-gonic/gin"
)

// ShareFile copies a local file into the shared directory, registers
// it with the tracker and records it in the catalog. The REPL uses
// this too.
func (s *Server) ShareFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not found: %s", path)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}

	basename := filepath.Base(path)
	dest := filepath.Join(s.SharedDir, basename)

	// Skip the copy when the file is already in shared_files.
	srcAbs, _ := filepath.Abs(path)
	destAbs, _ := filepath.Abs(dest)
	if srcAbs != destAbs {
		if err := copyFile(path, dest); err != nil {
			return fmt.Errorf("copy into shared directory: %w", err)
		}
	}

	if !s.Tracker.RegisterWithRetry(basename, s.LocalIP, s.P2PPort) {
		return errors.New("failed to register file with tracker")
	}

	var existing db.SharedFile
	if err := s.DB.Where("name = ?", basename).First(&existing).Error; err == nil {
		existing.Size = fi.Size()
		s.DB.Save(&existing)
	} else {
		s.DB.Create(&db.SharedFile{Name: basename, Size: fi.Size()})
	}

	s.log.Infof("Shared %s (%d bytes)", basename, fi.Size())
	return nil
}

// StartDownload looks up peers for filename and launches the fetch in
// the background. Returns how many peers the fetch will draw from.
func (s *Server) StartDownload(filename, saveas string) (int, error) {
	if saveas == "" {
		saveas = filename
	}

	peers := s.Peers.Lookup(filename)
	if len(peers) == 0 {
		return 0, fmt.Errorf("no peers found for %s", filename)
	}

	go func() {
		if err := s.Leecher.Fetch(peers, filename, saveas); err != nil {
			s.log.Errorf("Download of %s failed: %v", filename, err)
		}
	}()
	return len(peers), nil
}

func (s *Server) handleShare(c *gin.Context) {
	filename := c.PostForm("filename")
	if filename == "" {
		s.renderMessage(c, http.StatusBadRequest, "Share failed", "No filename provided.")
		return
	}

	// Accept an absolute path, a path relative to the working
	// directory, or a name already under shared_files.
	candidates := []string{filename, filepath.Join(s.SharedDir, filepath.Base(filename))}
	var found string
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			found = p
			break
		}
	}
	if found == "" {
		s.renderMessage(c, http.StatusNotFound, "Share failed", fmt.Sprintf("File not found: %s", filename))
		return
	}

	if err := s.ShareFile(found); err != nil {
		s.renderMessage(c, http.StatusInternalServerError, "Share failed", err.Error())
		return
	}
	s.renderMessage(c, http.StatusOK, "File shared",
		fmt.Sprintf("%s is now registered and available to other peers.", filepath.Base(found)))
}

func (s *Server) handleDownload(c *gin.Context) {
	filename := c.PostForm("filename")
	saveas := c.PostForm("saveas")
	if filename == "" {
		s.renderMessage(c, http.StatusBadRequest, "Download failed", "No filename provided.")
		return
	}

	n, err := s.StartDownload(filename, saveas)
	if err != nil {
		s.renderMessage(c, http.StatusNotFound, "Download failed", err.Error())
		return
	}
	s.renderMessage(c, http.StatusOK, "Download started",
		fmt.Sprintf("Fetching %s from %d peer(s). The file will appear in the downloads directory.", filename, n))
}

func copyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destination.Close()

	_, err = io.Copy(destination, source)
	return err
}

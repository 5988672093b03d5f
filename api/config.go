package api

import (
	"net/http"

	"peerbox-core/db"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleGetConfig(c *gin.Context) {
	var settings db.Settings
	if err := s.DB.First(&settings).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch settings"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var req db.Settings
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.TrackerAddr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tracker_addr is required"})
		return
	}

	var settings db.Settings
	s.DB.First(&settings)
	settings.TrackerAddr = req.TrackerAddr
	s.DB.Save(&settings)

	// Point the live client at the new tracker and forget cached
	// lookups from the old one.
	s.Tracker.Addr = settings.TrackerAddr
	s.Peers.Clear()

	s.log.Infof("Tracker address updated to %s", settings.TrackerAddr)
	c.JSON(http.StatusOK, settings)
}

package api

import (
	"fmt"

	"peerbox-core/core"
	"peerbox-core/tracker"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Server is the HTTP face of a peer node: a small form UI for sharing
// and downloading, progress pages backed by the progress registry, and
// JSON endpoints for tooling.
type Server struct {
	Router   *gin.Engine
	DB       *gorm.DB
	Leecher  *core.Leecher
	Progress *core.ProgressRegistry
	Peers    *core.PeerCache
	Tracker  *tracker.Client

	SharedDir   string
	DownloadDir string
	LocalIP     string
	P2PPort     int

	log *logrus.Entry
}

func NewServer(database *gorm.DB, leecher *core.Leecher, progress *core.ProgressRegistry, peers *core.PeerCache, trackerClient *tracker.Client, sharedDir, downloadDir, localIP string, p2pPort int) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	_ = r.SetTrustedProxies([]string{"127.0.0.1"})

	s := &Server{
		Router:      r,
		DB:          database,
		Leecher:     leecher,
		Progress:    progress,
		Peers:       peers,
		Tracker:     trackerClient,
		SharedDir:   sharedDir,
		DownloadDir: downloadDir,
		LocalIP:     localIP,
		P2PPort:     p2pPort,
		log:         logrus.WithField("component", "http"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Router.GET("/", s.handleIndex)
	s.Router.GET("/progress", s.handleProgressPage)
	s.Router.GET("/available", s.handleAvailablePage)
	s.Router.POST("/share", s.handleShare)
	s.Router.POST("/download", s.handleDownload)

	api := s.Router.Group("/api")
	{
		api.GET("/progress", s.handleProgressJSON)
		api.GET("/config", s.handleGetConfig)
		api.POST("/config", s.handleUpdateConfig)
	}
}

func (s *Server) Run(port int) error {
	return s.Router.Run(fmt.Sprintf(":%d", port))
}

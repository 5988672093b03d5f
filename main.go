package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"peerbox-core/api"
	"peerbox-core/core"
	"peerbox-core/db"
	"peerbox-core/tracker"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flagTracker  string
	flagPort     int
	flagHTTPPort int
	flagDataDir  string

	flagTrackerPort int
)

var rootCmd = &cobra.Command{
	Use:   "peerbox",
	Short: "Peer node: serves shared files, downloads from other peers",
	RunE:  runPeer,
}

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Run the central tracker service",
	RunE:  runTracker,
}

func init() {
	rootCmd.Flags().StringVar(&flagTracker, "tracker", "", "tracker address (host:port); defaults to the saved setting")
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "data-plane port (0 picks a free port)")
	rootCmd.Flags().IntVar(&flagHTTPPort, "http-port", 0, "HTTP UI port (0 picks a free port)")
	rootCmd.Flags().StringVar(&flagDataDir, "dir", ".", "working directory for shared_files/ and downloads/")

	trackerCmd.Flags().IntVar(&flagTrackerPort, "port", tracker.DefaultPort, "tracker listen port")
	rootCmd.AddCommand(trackerCmd)
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func runTracker(cmd *cobra.Command, args []string) error {
	srv := tracker.NewServer()
	if err := srv.Listen(flagTrackerPort); err != nil {
		return err
	}
	return srv.Serve()
}

func runPeer(cmd *cobra.Command, args []string) error {
	log := logrus.WithField("component", "main")

	if err := os.MkdirAll(flagDataDir, 0755); err != nil {
		return err
	}
	if err := os.Chdir(flagDataDir); err != nil {
		return err
	}

	sharedDir := "shared_files"
	downloadDir := "downloads"
	for _, dir := range []string{sharedDir, downloadDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	database, err := db.InitDB("peerbox.db")
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	trackerAddr := flagTracker
	if trackerAddr == "" {
		var settings db.Settings
		database.First(&settings)
		trackerAddr = settings.TrackerAddr
	}

	localIP := core.LocalIP()

	// Data-plane server first, so the port is known before anything is
	// registered under it.
	peerServer := core.NewPeerServer(sharedDir, downloadDir)
	if err := peerServer.Listen(flagPort); err != nil {
		return err
	}
	p2pPort := peerServer.Port()
	go func() {
		if err := peerServer.Serve(); err != nil {
			log.Errorf("Data-plane server stopped: %v", err)
		}
	}()

	trackerClient := tracker.NewClient(trackerAddr)
	peerCache := core.NewPeerCache(trackerClient)
	health := core.NewPeerHealth(peerCache)
	health.Start()
	defer health.Stop()

	progress := core.NewProgressRegistry()
	leecher := core.NewLeecher(progress, trackerClient, downloadDir, localIP, p2pPort)
	leecher.Health = health
	leecher.OnComplete = func(requestName, saveName string, size int64) {
		database.Create(&db.DownloadedFile{Name: saveName, RequestName: requestName, Size: size})
	}

	server := api.NewServer(database, leecher, progress, peerCache, trackerClient, sharedDir, downloadDir, localIP, p2pPort)

	httpPort := flagHTTPPort
	if httpPort == 0 {
		httpPort, err = core.FreePort()
		if err != nil {
			return fmt.Errorf("pick HTTP port: %w", err)
		}
	}
	go func() {
		if err := server.Run(httpPort); err != nil {
			log.Errorf("HTTP UI stopped: %v", err)
		}
	}()

	log.Infof("Tracker at %s", trackerAddr)
	log.Infof("P2P server running on %s:%d", localIP, p2pPort)
	log.Infof("HTTP UI running at http://%s:%d", localIP, httpPort)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		log.Info("Received signal, shutting down...")
		peerServer.Close()
		os.Exit(0)
	}()

	repl(server, downloadDir)
	return nil
}

// repl drives the interactive command loop on stdin.
func repl(server *api.Server, downloadDir string) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Println("\nCommands:")
		fmt.Println("  share <path>                - Share a file")
		fmt.Println("  download <name> [saveas]    - Download a file")
		fmt.Println("  list                        - List downloaded files")
		fmt.Println("  exit                        - Exit the program")
		fmt.Print("> ")

		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "share":
			if len(fields) < 2 {
				fmt.Println("Error: No filename provided")
				continue
			}
			if err := server.ShareFile(fields[1]); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("File registered successfully")
			}

		case "download":
			if len(fields) < 2 {
				fmt.Println("Error: No filename provided")
				continue
			}
			saveas := ""
			if len(fields) > 2 {
				saveas = fields[2]
			}
			if _, err := server.StartDownload(fields[1], saveas); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Printf("Download started for %s\n", fields[1])
			}

		case "list":
			fmt.Println("Downloaded files:")
			entries, err := os.ReadDir(downloadDir)
			if err != nil {
				fmt.Println("Error accessing downloads directory")
				continue
			}
			for _, entry := range entries {
				if info, err := entry.Info(); err == nil && entry.Type().IsRegular() {
					fmt.Printf("- %s (%s)\n", entry.Name(), humanize.Bytes(uint64(info.Size())))
				}
			}

		case "exit":
			return

		default:
			fmt.Println("Unknown command")
		}
	}
}

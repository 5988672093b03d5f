package api

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

const pageStyle = `<style>
body { font-family: sans-serif; max-width: 720px; margin: 2em auto; color: #2c3e50; }
h1 { font-size: 1.4em; }
.nav a { margin-right: 1em; }
form { margin: 1em 0; padding: 1em; background: #f7f9fa; border-radius: 6px; }
input[type=text] { width: 60%; padding: 4px; }
.bar { height: 18px; background: #ecf0f1; border-radius: 4px; overflow: hidden; }
.fill { height: 100%; background: #3498db; }
.done { background: #2ecc71; }
li { margin: 4px 0; }
</style>`

func (s *Server) renderPage(c *gin.Context, status int, body string) {
	var html strings.Builder
	html.WriteString("<html><head><title>PeerBox</title>")
	html.WriteString(pageStyle)
	html.WriteString("</head><body>")
	html.WriteString("<div class='nav'><a href='/'>Home</a><a href='/progress'>Downloads</a><a href='/available'>Available Files</a></div>")
	html.WriteString(body)
	html.WriteString("</body></html>")
	c.Data(status, "text/html; charset=utf-8", []byte(html.String()))
}

func (s *Server) renderMessage(c *gin.Context, status int, title, message string) {
	s.renderPage(c, status, fmt.Sprintf("<h1>%s</h1><p>%s</p>", title, message))
}

func (s *Server) handleIndex(c *gin.Context) {
	var b strings.Builder
	b.WriteString("<h1>PeerBox</h1>")
	b.WriteString(fmt.Sprintf("<p>This peer: %s:%d</p>", s.LocalIP, s.P2PPort))

	b.WriteString("<h2>Share a file</h2>")
	b.WriteString("<p>Select a file from this machine to share it on the network.</p>")
	b.WriteString("<form action='/share' method='post'>")
	b.WriteString("<input type='text' name='filename' placeholder='Path to file' required> ")
	b.WriteString("<input type='submit' value='Share'></form>")

	b.WriteString("<h2>Download a file</h2>")
	b.WriteString("<p>Enter the name of a file published on the network.</p>")
	b.WriteString("<form action='/download' method='post'>")
	b.WriteString("<input type='text' name='filename' placeholder='Filename to download' required> ")
	b.WriteString("<input type='text' name='saveas' placeholder='Save as (optional)'> ")
	b.WriteString("<input type='submit' value='Download'></form>")

	s.renderPage(c, http.StatusOK, b.String())
}

func (s *Server) handleProgressPage(c *gin.Context) {
	var b strings.Builder
	b.WriteString("<h1>Downloads</h1>")

	snapshot := s.Progress.Snapshot()
	if len(snapshot) == 0 {
		b.WriteString("<p>No active downloads at the moment.</p>")
	} else {
		names := make([]string, 0, len(snapshot))
		for name := range snapshot {
			names = append(names, name)
		}
		sort.Strings(names)

		b.WriteString("<ul>")
		for _, name := range names {
			dp := snapshot[name]
			pct := 0
			if dp.TotalChunks > 0 {
				pct = int(dp.CompletedChunks * 100 / dp.TotalChunks)
			}
			cls := "fill"
			if dp.Finished {
				cls = "fill done"
			}
			b.WriteString(fmt.Sprintf("<li><b>%s</b> (%s) — %d/%d chunks", name, dp.RequestName, dp.CompletedChunks, dp.TotalChunks))
			b.WriteString(fmt.Sprintf("<div class='bar'><div class='%s' style='width:%d%%'></div></div></li>", cls, pct))
		}
		b.WriteString("</ul>")
	}

	s.renderPage(c, http.StatusOK, b.String())
}

func (s *Server) handleAvailablePage(c *gin.Context) {
	var b strings.Builder
	b.WriteString("<h1>Available Files</h1>")

	b.WriteString("<h2>Shared</h2>")
	b.WriteString(listDirectory(s.SharedDir, "No shared files yet"))

	b.WriteString("<h2>Downloaded</h2>")
	b.WriteString(listDirectory(s.DownloadDir, "No downloaded files yet"))

	s.renderPage(c, http.StatusOK, b.String())
}

func listDirectory(dir, emptyMsg string) string {
	var b strings.Builder
	b.WriteString("<ul>")

	entries, err := os.ReadDir(dir)
	if err != nil {
		b.WriteString("<li>Error accessing directory</li></ul>")
		return b.String()
	}

	count := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		b.WriteString(fmt.Sprintf("<li>%s (%s)</li>", entry.Name(), humanize.Bytes(uint64(info.Size()))))
		count++
	}
	if count == 0 {
		b.WriteString(fmt.Sprintf("<li>%s</li>", emptyMsg))
	}
	b.WriteString("</ul>")
	return b.String()
}

func (s *Server) handleProgressJSON(c *gin.Context) {
	c.JSON(http.StatusOK, s.Progress.Snapshot())
}

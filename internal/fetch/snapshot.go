package fetch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/casaops/harvester/internal/logger"
)

// Snapshotter writes diagnostic copies of problem pages for offline
// debugging. Snapshots are never read back by the pipeline.
type Snapshotter struct {
	dir string
	log logger.Interface
}

// NewSnapshotter creates a snapshotter writing into dir. A nil
// *Snapshotter is valid and captures nothing.
func NewSnapshotter(dir string, log logger.Interface) *Snapshotter {
	return &Snapshotter{dir: dir, log: log}
}

// Capture writes the page HTML to the snapshot directory. Failures are
// logged and otherwise ignored; snapshots must never affect control flow.
func (s *Snapshotter) Capture(siteKey string, pageNumber int, html string) {
	if s == nil || s.dir == "" || html == "" {
		return
	}

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		s.log.Warn("snapshot directory unavailable", "dir", s.dir, "error", err)
		return
	}

	name := fmt.Sprintf("%s-page%d-%d.html", siteKey, pageNumber, time.Now().UnixNano())
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, []byte(html), 0o600); err != nil {
		s.log.Warn("snapshot write failed", "path", path, "error", err)
		return
	}

	s.log.Debug("snapshot captured", "path", path)
}

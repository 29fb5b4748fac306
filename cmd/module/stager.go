package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/saviour/saviour/internal/recording"
)

// segmentStager hands a closed segment off to Export by renaming it (and its
// sidecars) into the flat to_export/ staging directory, encoding the
// session and module name into the filename so export.Watcher's fsnotify
// handler can recover both without a directory-tree lookup (spec §4.7/§4.8
// "staged" handoff).
type segmentStager struct {
	toExportDir string
	moduleName  string
	ledger      *recording.Ledger // optional: records segment history for list_recordings
}

func newSegmentStager(toExportDir, moduleName string, ledger *recording.Ledger) *segmentStager {
	return &segmentStager{toExportDir: toExportDir, moduleName: moduleName, ledger: ledger}
}

func (s *segmentStager) Stage(seg recording.Segment) error {
	if err := os.MkdirAll(s.toExportDir, 0o755); err != nil {
		return fmt.Errorf("stager: ensure to_export dir: %w", err)
	}
	sessionName := filepath.Base(filepath.Dir(seg.Path))

	if s.ledger != nil {
		if err := s.ledger.RecordSegment(sessionName, seg); err != nil {
			return fmt.Errorf("stager: record ledger entry: %w", err)
		}
	}

	if err := s.moveOne(seg.Path, sessionName); err != nil {
		return err
	}
	for _, sidecar := range seg.Sidecars {
		if err := s.moveOne(sidecar, sessionName); err != nil {
			return err
		}
	}
	return nil
}

func (s *segmentStager) moveOne(path, sessionName string) error {
	dest := filepath.Join(s.toExportDir, stagedName(sessionName, s.moduleName, filepath.Base(path)))
	return os.Rename(path, dest)
}

func stagedName(sessionName, moduleName, base string) string {
	return sessionName + "__" + moduleName + "__" + base
}

// parseStagedName recovers the (session, module) pair export.Watcher needs
// from a staged filename, the inverse of stagedName.
func parseStagedName(filename string) (session, module string) {
	parts := strings.SplitN(filename, "__", 3)
	if len(parts) < 3 {
		return "", ""
	}
	return parts[0], parts[1]
}

package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// ManifestArtifact is one exported file's entry in a session manifest
// (spec §4.8).
type ManifestArtifact struct {
	Path    string    `json:"path"`
	SizeB   int64     `json:"size_bytes"`
	ModTime time.Time `json:"mod_time"`
}

// Manifest lists every exported artifact for one module within a session.
type Manifest struct {
	SessionName string             `json:"session_name"`
	ModuleName  string             `json:"module_name"`
	Artifacts   []ManifestArtifact `json:"artifacts"`
}

// ManifestWriter maintains one manifest file per (session, module) and a
// one-time copy of the module's effective config into the session folder
// (spec §4.8), idempotent — the config copy is skipped if already present.
type ManifestWriter struct {
	enabled    bool
	configFn   func() ([]byte, error) // returns the module's effective config as JSON
	mu         sync.Mutex
}

// NewManifestWriter creates a ManifestWriter. If enabled is false,
// RecordArtifact is a no-op (spec §4.8: "when enabled").
func NewManifestWriter(enabled bool, configFn func() ([]byte, error)) *ManifestWriter {
	return &ManifestWriter{enabled: enabled, configFn: configFn}
}

// RecordArtifact appends finalLocal's size/mtime to the session manifest
// and, on first call for a session, writes the one-time config copy.
func (w *ManifestWriter) RecordArtifact(sessionName, moduleName, finalLocal string) error {
	if !w.enabled {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	sessionDir := filepath.Dir(filepath.Dir(finalLocal))
	if err := w.ensureConfigCopy(sessionDir); err != nil {
		return err
	}

	manifestPath := filepath.Join(sessionDir, moduleName, "manifest.json")
	m, err := loadManifest(manifestPath, sessionName, moduleName)
	if err != nil {
		return err
	}

	info, err := os.Stat(finalLocal)
	if err != nil {
		return fmt.Errorf("export: stat artifact: %w", err)
	}
	m.Artifacts = append(m.Artifacts, ManifestArtifact{
		Path:    filepath.Base(finalLocal),
		SizeB:   info.Size(),
		ModTime: info.ModTime(),
	})

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("export: marshal manifest: %w", err)
	}
	return renameio.WriteFile(manifestPath, data, 0o644)
}

func (w *ManifestWriter) ensureConfigCopy(sessionDir string) error {
	if w.configFn == nil {
		return nil
	}
	configPath := filepath.Join(sessionDir, "config.json")
	if _, err := os.Stat(configPath); err == nil {
		return nil // idempotent: already present
	}
	data, err := w.configFn()
	if err != nil {
		return fmt.Errorf("export: read effective config: %w", err)
	}
	return renameio.WriteFile(configPath, data, 0o644)
}

func loadManifest(path, sessionName, moduleName string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{SessionName: sessionName, ModuleName: moduleName}, nil
		}
		return Manifest{}, fmt.Errorf("export: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("export: parse manifest: %w", err)
	}
	return m, nil
}

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

// loadOrCreateModuleID returns the stable module id persisted at path,
// creating one on first run. A module's id must survive process restarts
// (spec §3: the registry keys on module_id, not ephemeral process state), so
// it cannot simply be generated fresh on every boot the way a session id is.
func loadOrCreateModuleID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := renameio.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", err
	}
	return id, nil
}

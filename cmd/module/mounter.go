package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// shareMounter ensures a CIFS/NFS share is mounted at a fixed mount point
// before export (spec §4.8 step 1). Mount invocation is inherently
// host-specific — no pack library wraps mount(8) — so this stays a thin
// os/exec wrapper, the same boundary DESIGN.md already draws around
// internal/timesync's ServiceController.
type shareMounter struct {
	mountPoint string
	host       string
	username   string
	password   string
	log        zerolog.Logger
}

func newShareMounter(mountPoint, host, username, password string, log zerolog.Logger) *shareMounter {
	return &shareMounter{mountPoint: mountPoint, host: host, username: username, password: password, log: log.With().Str("component", "export.mounter").Logger()}
}

func (m *shareMounter) EnsureMounted(ctx context.Context) (string, error) {
	if m.isMounted() {
		return m.mountPoint, nil
	}
	if err := os.MkdirAll(m.mountPoint, 0o755); err != nil {
		return "", fmt.Errorf("mounter: create mount point: %w", err)
	}
	if m.host == "" {
		// No remote configured: treat the mount point as a local directory
		// (useful for development and single-host deployments).
		return m.mountPoint, nil
	}

	source := fmt.Sprintf("//%s/saviour", m.host)
	opts := fmt.Sprintf("username=%s,password=%s,vers=3.0", m.username, m.password)
	cmd := exec.CommandContext(ctx, "mount", "-t", "cifs", source, m.mountPoint, "-o", opts)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("mounter: mount %s: %w: %s", source, err, strings.TrimSpace(string(out)))
	}
	m.log.Info().Str("source", source).Str("mount_point", m.mountPoint).Msg("share mounted")
	return m.mountPoint, nil
}

func (m *shareMounter) isMounted() bool {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == m.mountPoint {
			return true
		}
	}
	return false
}

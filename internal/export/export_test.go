package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

type fakeMounter struct{ mountPoint string }

func (m fakeMounter) EnsureMounted(ctx context.Context) (string, error) {
	return m.mountPoint, nil
}

func TestExportMovesFileThroughTwoPhaseRename(t *testing.T) {
	root := t.TempDir()
	toExport := filepath.Join(root, "to_export")
	exported := filepath.Join(root, "exported")
	mount := filepath.Join(root, "share")
	os.MkdirAll(toExport, 0o755)

	src := filepath.Join(toExport, "segment_0000.mp4")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(Config{ToExportDir: toExport, ExportedDir: exported}, fakeMounter{mount}, nil, nil, zerolog.Nop())
	if err := p.export(context.Background(), Job{ModuleName: "lobby-cam", SessionName: "sess_a", LocalPath: src}); err != nil {
		t.Fatalf("export: %v", err)
	}

	finalLocal := filepath.Join(exported, "sess_a", "lobby-cam", "segment_0000.mp4")
	if _, err := os.Stat(finalLocal); err != nil {
		t.Errorf("expected file at %s: %v", finalLocal, err)
	}
	remote := filepath.Join(mount, "sess_a", "lobby-cam", "segment_0000.mp4")
	data, err := os.ReadFile(remote)
	if err != nil {
		t.Fatalf("expected file on remote mount: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("remote content = %q, want hello", data)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source file should no longer exist in to_export/")
	}
}

func TestExportDeletesLocalWhenDeleteOnExport(t *testing.T) {
	root := t.TempDir()
	toExport := filepath.Join(root, "to_export")
	exported := filepath.Join(root, "exported")
	mount := filepath.Join(root, "share")
	os.MkdirAll(toExport, 0o755)
	src := filepath.Join(toExport, "segment_0000.mp4")
	os.WriteFile(src, []byte("hello"), 0o644)

	p := New(Config{ToExportDir: toExport, ExportedDir: exported, DeleteOnExport: true}, fakeMounter{mount}, nil, nil, zerolog.Nop())
	if err := p.export(context.Background(), Job{ModuleName: "cam", SessionName: "sess_b", LocalPath: src}); err != nil {
		t.Fatalf("export: %v", err)
	}
	finalLocal := filepath.Join(exported, "sess_b", "cam", "segment_0000.mp4")
	if _, err := os.Stat(finalLocal); !os.IsNotExist(err) {
		t.Error("local exported copy should have been deleted")
	}
}

func TestDestinationLimiterReinstallsOnChange(t *testing.T) {
	var installed []string
	dl := NewDestinationLimiter(1000, 2000)
	dl.InstallFn = func(ctx context.Context, dest string, maxBPS, burstB int) error {
		installed = append(installed, dest)
		return nil
	}

	if err := dl.InstallFor(context.Background(), "10.0.0.5"); err != nil {
		t.Fatal(err)
	}
	if err := dl.InstallFor(context.Background(), "10.0.0.5"); err != nil {
		t.Fatal(err)
	}
	if len(installed) != 1 {
		t.Fatalf("installed = %v, want exactly one call for unchanged destination", installed)
	}

	if err := dl.InstallFor(context.Background(), "10.0.0.6"); err != nil {
		t.Fatal(err)
	}
	if len(installed) != 3 { // teardown("") + install for new dest
		t.Fatalf("installed = %v, want teardown+reinstall on destination change", installed)
	}
}

func TestManifestWriterIsIdempotentForConfigCopy(t *testing.T) {
	root := t.TempDir()
	calls := 0
	mw := NewManifestWriter(true, func() ([]byte, error) {
		calls++
		return []byte(`{"camera":{"fps":30}}`), nil
	})

	artifact := filepath.Join(root, "sess_a", "cam", "segment_0000.mp4")
	os.MkdirAll(filepath.Dir(artifact), 0o755)
	os.WriteFile(artifact, []byte("data"), 0o644)

	if err := mw.RecordArtifact("sess_a", "cam", artifact); err != nil {
		t.Fatalf("RecordArtifact: %v", err)
	}
	if err := mw.RecordArtifact("sess_a", "cam", artifact); err != nil {
		t.Fatalf("RecordArtifact second call: %v", err)
	}
	if calls != 1 {
		t.Errorf("config copy generated %d times, want 1 (idempotent)", calls)
	}

	data, err := os.ReadFile(filepath.Join(root, "sess_a", "cam", "manifest.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if len(data) == 0 {
		t.Error("manifest should not be empty")
	}
}

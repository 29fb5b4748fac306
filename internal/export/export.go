// Package export implements the module-side export pipeline of spec §4.8:
// the two-phase-rename upload protocol from a local `to_export/` staging
// area to a mounted remote share, rate-limited per destination, followed by
// manifest emission and local retention pruning. The async-worker-over-a-
// channel shape and the "files already safe locally, drop rather than
// block" discipline are grounded on the teacher's
// internal/storage.AsyncUploader and CachePruner.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// Mounter ensures the remote export destination is reachable at a fixed
// mount point, mounting it if necessary (spec §4.8 step 1). The concrete
// implementation (CIFS/NFS mount invocation) is host-specific and supplied
// by cmd/module; export only depends on this narrow contract.
type Mounter interface {
	EnsureMounted(ctx context.Context) (mountPoint string, err error)
}

// Job is one file staged for export (spec §4.7 hands closed segments here
// as "staged").
type Job struct {
	ModuleName  string
	SessionName string
	LocalPath   string // file under to_export/
}

// Pipeline is the per-module export worker of spec §4.8. It is the sole
// mutator of to_export/ and exported/ (spec §5) — a staged file is a
// one-writer/one-reader handoff between the recording state machine and
// this pipeline.
type Pipeline struct {
	toExportDir string
	exportedDir string

	mounter   Mounter
	limiter   *DestinationLimiter
	manifests *ManifestWriter

	deleteOnExport bool

	log zerolog.Logger

	jobs     chan Job
	stopped  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
}

// Config parameterizes a Pipeline.
type Config struct {
	ToExportDir    string
	ExportedDir    string
	DeleteOnExport bool
	QueueSize      int
}

// New creates a Pipeline. Call Start to launch its worker.
func New(cfg Config, mounter Mounter, limiter *DestinationLimiter, manifests *ManifestWriter, log zerolog.Logger) *Pipeline {
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	return &Pipeline{
		toExportDir:    cfg.ToExportDir,
		exportedDir:    cfg.ExportedDir,
		mounter:        mounter,
		limiter:        limiter,
		manifests:      manifests,
		deleteOnExport: cfg.DeleteOnExport,
		log:            log.With().Str("component", "export.pipeline").Logger(),
		jobs:           make(chan Job, size),
		stop:           make(chan struct{}),
	}
}

// Enqueue stages a file for export. Non-blocking: the file is already safe
// in to_export/, so a full queue just delays upload rather than risking
// data loss.
func (p *Pipeline) Enqueue(job Job) {
	if p.stopped.Load() {
		return
	}
	select {
	case p.jobs <- job:
	default:
		p.log.Warn().Str("path", job.LocalPath).Msg("export queue full, file remains staged in to_export/")
	}
}

// Start launches the single export worker (spec §5: "Export runs on its own
// thread").
func (p *Pipeline) Start(ctx context.Context) {
	go p.worker(ctx)
}

// Stop prevents further enqueues and signals the worker to exit. It does not
// wait for an export in progress, and jobs still queued are not processed.
func (p *Pipeline) Stop() {
	p.stopped.Store(true)
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Pipeline) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case job := <-p.jobs:
			if err := p.export(ctx, job); err != nil {
				p.log.Error().Err(err).Str("path", job.LocalPath).Msg("export failed, file remains staged")
			}
		}
	}
}

// export runs the full two-phase-rename protocol of spec §4.8 for one
// staged file.
func (p *Pipeline) export(ctx context.Context, job Job) error {
	mountPoint, err := p.mounter.EnsureMounted(ctx)
	if err != nil {
		return fmt.Errorf("export: mount: %w", err)
	}

	destDir := filepath.Join(mountPoint, job.SessionName, job.ModuleName)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("export: ensure destination: %w", err)
	}

	if p.limiter != nil {
		if err := p.limiter.InstallFor(ctx, mountPoint); err != nil {
			p.log.Warn().Err(err).Msg("rate limiter install failed, continuing unthrottled")
		}
	}

	name := filepath.Base(job.LocalPath)
	pendingLocal := filepath.Join(filepath.Dir(job.LocalPath), "PENDING_"+name)

	// Step 3: rename local source to PENDING_<name>.
	if err := os.Rename(job.LocalPath, pendingLocal); err != nil {
		return fmt.Errorf("export: stage local pending rename: %w", err)
	}

	// Steps 4-5: copy into destination under a renameio pending file, whose
	// CloseAtomicallyReplace performs the atomic rename-into-place at the
	// destination — an external observer on the share never sees a partial
	// file under its final name.
	if err := p.copyToDestinationAtomic(pendingLocal, filepath.Join(destDir, name)); err != nil {
		// Roll the local rename back so a retry finds the file where
		// Enqueue originally staged it.
		_ = os.Rename(pendingLocal, job.LocalPath)
		return fmt.Errorf("export: copy to destination: %w", err)
	}

	// Step 6: rename local PENDING_<name> back to <name> and move to
	// exported/.
	finalLocal := filepath.Join(p.exportedDir, job.SessionName, job.ModuleName, name)
	if err := os.MkdirAll(filepath.Dir(finalLocal), 0o755); err != nil {
		return fmt.Errorf("export: ensure exported dir: %w", err)
	}
	if err := os.Rename(pendingLocal, finalLocal); err != nil {
		return fmt.Errorf("export: move to exported: %w", err)
	}

	if p.manifests != nil {
		if err := p.manifests.RecordArtifact(job.SessionName, job.ModuleName, finalLocal); err != nil {
			p.log.Warn().Err(err).Msg("manifest update failed")
		}
	}

	if p.deleteOnExport {
		// Manifest and config are written before deletion (spec §4.8).
		if err := os.Remove(finalLocal); err != nil {
			p.log.Warn().Err(err).Str("path", finalLocal).Msg("retention delete failed")
		}
	}
	return nil
}

func (p *Pipeline) copyToDestinationAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	pf, err := renameio.NewPendingFile(dst, renameio.WithExistingPermissions(), renameio.WithPermissions(0o644))
	if err != nil {
		return err
	}
	defer pf.Cleanup()

	if _, err := io.Copy(pf, in); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}

// BacklogLen reports the number of jobs currently queued for upload, for
// the metrics collector (spec §4.8's export backlog gauge).
func (p *Pipeline) BacklogLen() int {
	return len(p.jobs)
}

// WatchDir returns the set of filenames currently staged for export, used
// to reconcile after a restart (files present in to_export/ that were
// never enqueued because the process crashed mid-session).
func WatchDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

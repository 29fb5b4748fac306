package export

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches to_export/ for segments handed off by the recording
// state machine and enqueues them onto a Pipeline, so export reacts to a
// staged file immediately rather than polling.
type Watcher struct {
	dir         string
	sessionName func(filename string) (session, module string)
	pipeline    *Pipeline
	log         zerolog.Logger
}

// NewWatcher creates a Watcher over dir. sessionName extracts the session
// and module-name components of a staged filename so the Pipeline knows
// where to place it under the remote share.
func NewWatcher(dir string, sessionName func(string) (string, string), pipeline *Pipeline, log zerolog.Logger) *Watcher {
	return &Watcher{
		dir:         dir,
		sessionName: sessionName,
		pipeline:    pipeline,
		log:         log.With().Str("component", "export.watcher").Logger(),
	}
}

// Run watches for file-create events under dir until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.handle(ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("export watcher error")
		}
	}
}

func (w *Watcher) handle(path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, "PENDING_") || strings.HasPrefix(name, ".") {
		return
	}
	session, module := w.sessionName(name)
	w.pipeline.Enqueue(Job{ModuleName: module, SessionName: session, LocalPath: path})
}

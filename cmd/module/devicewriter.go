package main

import (
	"context"
	"os"
)

// fileDeviceWriter is the default recording.DeviceWriter: it opens an empty
// file at the segment path and closes it on Stop. The real capture back-end
// (video encoder, SDR/audio sink, GPIO capture) is explicitly out of scope
// per spec §1 — this stands in so the segment rollover/stage pipeline has a
// writer to drive end to end.
type fileDeviceWriter struct {
	f *os.File
}

func (w *fileDeviceWriter) Start(ctx context.Context, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w.f = f
	return nil
}

func (w *fileDeviceWriter) Stop() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// noopFormatFixer stands in for the format-fix pass spec §4.7 requires
// against a real container writer; there is nothing to re-stamp in a plain
// file, so it's a no-op rather than a fake transform.
type noopFormatFixer struct{}

func (noopFormatFixer) Fix(path string) error { return nil }

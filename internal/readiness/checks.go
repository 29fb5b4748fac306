package readiness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// SyncStatus is the minimal view readiness needs from the time-sync
// supervisor (spec §4.3's readout contract: good if offset within threshold
// and freq scalars non-null).
type SyncStatus interface {
	IsSyncGood() bool
}

// RecordingState is the minimal view readiness needs from the recording
// state machine.
type RecordingState interface {
	IsRecording() bool
}

// DiskWritableCheck verifies the recording directory exists and accepts a
// probe write.
func DiskWritableCheck(dir string) Check {
	return Check{
		Name: "disk_writable",
		Run: func(ctx context.Context) (bool, string) {
			probe := filepath.Join(dir, ".readiness_probe")
			f, err := os.Create(probe)
			if err != nil {
				return false, fmt.Sprintf("recording directory not writable: %v", err)
			}
			f.Close()
			os.Remove(probe)
			return true, ""
		},
	}
}

// FreeDiskSpaceCheck verifies free space on dir's filesystem exceeds
// requiredMB.
func FreeDiskSpaceCheck(dir string, requiredMB int) Check {
	return Check{
		Name: "free_disk_space",
		Run: func(ctx context.Context) (bool, string) {
			var stat syscall.Statfs_t
			if err := syscall.Statfs(dir, &stat); err != nil {
				return false, fmt.Sprintf("could not stat filesystem: %v", err)
			}
			freeMB := (stat.Bavail * uint64(stat.Bsize)) / (1024 * 1024)
			if int(freeMB) < requiredMB {
				return false, fmt.Sprintf("free disk %dMB below required %dMB", freeMB, requiredMB)
			}
			return true, ""
		},
	}
}

// SyncOffsetCheck verifies the time-sync supervisor reports a good offset.
func SyncOffsetCheck(sync SyncStatus) Check {
	return Check{
		Name: "sync_offset",
		Run: func(ctx context.Context) (bool, string) {
			if !sync.IsSyncGood() {
				return false, "time sync offset outside threshold"
			}
			return true, ""
		},
	}
}

// NotRecordingCheck verifies the module is not mid-recording (a module
// already recording cannot be re-validated into READY — spec §4.6).
func NotRecordingCheck(rec RecordingState) Check {
	return Check{
		Name: "not_recording",
		Run: func(ctx context.Context) (bool, string) {
			if rec.IsRecording() {
				return false, "module is currently recording"
			}
			return true, ""
		},
	}
}

// ModuleRunningCheck is a trivial liveness probe — since the process running
// this check is, by definition, running, it exists to give module-type
// checks a uniform slot at the front of the suite and a place to record a
// future richer self-check.
func ModuleRunningCheck() Check {
	return Check{
		Name: "module_running",
		Run: func(ctx context.Context) (bool, string) {
			return true, ""
		},
	}
}

package store

import (
	"context"
	"fmt"

	"github.com/saviour/saviour/internal/health"
)

// RecordHealthSample appends one health sample for moduleID. The controller
// subscribes to health.Monitor's heartbeat intake and calls this for every
// accepted heartbeat, building the time series the operator API's history
// charts read from (spec §4.5/§4.8).
func (db *DB) RecordHealthSample(ctx context.Context, moduleID string, s health.Sample) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO health_samples (
			module_id, wall_timestamp, cpu_temp_c, cpu_util_percent,
			mem_util_percent, uptime_seconds, free_space_percent,
			hw_sync_offset_us, hw_sync_freq_ppb, sys_sync_offset_us, sys_sync_freq_ppb
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, moduleID, s.WallTimestamp, s.CPUTempC, s.CPUUtilPercent, s.MemUtilPercent,
		s.UptimeSeconds, s.FreeSpacePercent, s.HWSyncOffsetUS, s.HWSyncFreqPPB,
		s.SysSyncOffsetUS, s.SysSyncFreqPPB)
	if err != nil {
		return fmt.Errorf("store: record health sample for %s: %w", moduleID, err)
	}
	return nil
}

// HealthSampleRow is one row returned by HealthHistory.
type HealthSampleRow struct {
	WallTimestamp string
	health.Sample
}

// HealthHistory returns the most recent samples for moduleID, oldest first,
// for trend charts on the operator side.
func (db *DB) HealthHistory(ctx context.Context, moduleID string, limit int) ([]HealthSampleRow, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT wall_timestamp::text, cpu_temp_c, cpu_util_percent, mem_util_percent,
			uptime_seconds, free_space_percent, hw_sync_offset_us, hw_sync_freq_ppb,
			sys_sync_offset_us, sys_sync_freq_ppb
		FROM health_samples
		WHERE module_id = $1
		ORDER BY wall_timestamp DESC
		LIMIT $2
	`, moduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query health history for %s: %w", moduleID, err)
	}
	defer rows.Close()

	var out []HealthSampleRow
	for rows.Next() {
		var r HealthSampleRow
		if err := rows.Scan(&r.WallTimestamp, &r.CPUTempC, &r.CPUUtilPercent, &r.MemUtilPercent,
			&r.UptimeSeconds, &r.FreeSpacePercent, &r.HWSyncOffsetUS, &r.HWSyncFreqPPB,
			&r.SysSyncOffsetUS, &r.SysSyncFreqPPB); err != nil {
			return nil, fmt.Errorf("store: scan health sample row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

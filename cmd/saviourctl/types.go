package main

import "time"

// moduleView mirrors internal/api/registry_handlers.go's wire shape.
type moduleView struct {
	ModuleID      string    `json:"module_id"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	IP            string    `json:"ip"`
	Port          int       `json:"port"`
	Group         string    `json:"group"`
	Online        bool      `json:"online"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	ReadyReason   string    `json:"ready_reason,omitempty"`
}

// session mirrors internal/recording.Session's exported fields (the
// handler marshals the struct directly, so field names are the JSON
// keys — no tags to follow there).
type session struct {
	ID        string
	Name      string
	Target    string
	Members   []string
	Duration  *time.Duration
	StartedAt time.Time
	EndedAt   *time.Time
	Active    bool
	Outcomes  map[string]string
}

type startSessionRequest struct {
	Target       string `json:"target"`
	SessionName  string `json:"session_name"`
	DurationSecs *int   `json:"duration_seconds,omitempty"`
}

// sessionHistoryEntry and healthSampleRow mirror internal/store's
// SessionHistoryEntry and HealthSampleRow (plain Go structs with no JSON
// tags of their own, so the field names double as wire keys).
type sessionHistoryEntry struct {
	ID        string
	Name      string
	Target    string
	Members   []string
	StartedAt string
	EndedAt   *string
	Outcomes  map[string]string
}

type healthSampleRow struct {
	WallTimestamp    string
	CPUTempC         float64
	CPUUtilPercent   float64
	MemUtilPercent   float64
	UptimeSeconds    float64
	FreeSpacePercent float64
	HWSyncOffsetUS   float64
	HWSyncFreqPPB    float64
	SysSyncOffsetUS  float64
	SysSyncFreqPPB   float64
	Recording        bool
	Streaming        bool
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/saviour/saviour/internal/transport"
)

// Publisher runs on the module, publishing a `heartbeat` status on
// `heartbeat_interval` (spec §4.5, default 30s — see internal/appconfig's
// HeartbeatInterval).
type Publisher struct {
	client   *transport.Client
	gather   Gatherer
	moduleID string
	name     string
	interval time.Duration
	log      zerolog.Logger
}

// NewPublisher wires a heartbeat loop against an already-connected transport
// client.
func NewPublisher(client *transport.Client, gather Gatherer, moduleID, name string, interval time.Duration, log zerolog.Logger) *Publisher {
	return &Publisher{
		client:   client,
		gather:   gather,
		moduleID: moduleID,
		name:     name,
		interval: interval,
		log:      log.With().Str("component", "health.publisher").Logger(),
	}
}

// Run publishes one heartbeat immediately, then on every tick, until ctx is
// cancelled.
func (p *Publisher) Run(ctx context.Context) {
	p.publishOnce()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishOnce()
		}
	}
}

func (p *Publisher) publishOnce() {
	s := p.gather.Gather()
	status := transport.Status{
		Type:       transport.StatusHeartbeat,
		Timestamp:  time.Now().Unix(),
		ModuleID:   p.moduleID,
		ModuleName: p.name,
		Extra: map[string]any{
			"cpu_temp_c":         s.CPUTempC,
			"cpu_util_percent":   s.CPUUtilPercent,
			"mem_util_percent":   s.MemUtilPercent,
			"uptime_seconds":     s.UptimeSeconds,
			"free_space_percent": s.FreeSpacePercent,
			"hw_sync_offset_us":  s.HWSyncOffsetUS,
			"hw_sync_freq_ppb":   s.HWSyncFreqPPB,
			"sys_sync_offset_us": s.SysSyncOffsetUS,
			"sys_sync_freq_ppb":  s.SysSyncFreqPPB,
			"recording":          s.Recording,
			"streaming":          s.Streaming,
		},
	}
	if err := p.client.PublishStatus(p.moduleID, status); err != nil {
		p.log.Warn().Err(err).Msg("heartbeat publish failed")
	}
}

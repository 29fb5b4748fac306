// Command controller runs the SAVIOUR control-plane process (spec §4): the
// authoritative fleet registry, the recording session coordinator, the
// liveness monitor, and the operator HTTP/WebSocket surface. It either
// embeds an MQTT broker or dials an external one, and optionally persists
// session/health history to Postgres. Structure mirrors the teacher's
// cmd/tr-engine/main.go: parse flags, load config, build a base logger,
// wire subsystems, start them, block on signal.NotifyContext, shut down in
// reverse order.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/saviour/saviour/internal/api"
	"github.com/saviour/saviour/internal/appconfig"
	"github.com/saviour/saviour/internal/discovery"
	"github.com/saviour/saviour/internal/eventbus"
	"github.com/saviour/saviour/internal/health"
	"github.com/saviour/saviour/internal/lifecycle"
	"github.com/saviour/saviour/internal/metrics"
	"github.com/saviour/saviour/internal/recording"
	"github.com/saviour/saviour/internal/registry"
	"github.com/saviour/saviour/internal/store"
	"github.com/saviour/saviour/internal/transport"
)

var version = "dev"

func main() {
	var overrides appconfig.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "http-addr", "", "override HTTP_ADDR")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "override LOG_LEVEL")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "override DATABASE_URL")
	flag.StringVar(&overrides.MQTTBrokerURL, "mqtt-broker-url", "", "override MQTT_BROKER_URL")
	flag.Parse()

	os.Setenv("SAVIOUR_ROLE", "controller")
	cfg, err := appconfig.Load(overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.Role = "controller"
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Str("role", "controller").Logger().Level(level)

	if cfg.AuthGenerated {
		log.Warn().Str("token", cfg.AuthToken).Msg("no AUTH_TOKEN configured, generated one for this run")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startTime := time.Now()
	bus := eventbus.New(256)
	reg := registry.New(bus)

	var broker *transport.Broker
	brokerURL := cfg.MQTTBrokerURL
	if cfg.EmbedBroker {
		broker, err = transport.NewBroker(cfg.EmbedBrokerAddr, log.With().Str("component", "transport.broker").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("start embedded broker")
		}
		brokerURL = "tcp://127.0.0.1" + cfg.EmbedBrokerAddr
		defer broker.Close()
	}

	client, err := transport.Connect(transport.Options{
		BrokerURL: brokerURL,
		ClientID:  "saviour-controller",
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		Log:       log.With().Str("component", "transport.client").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect to broker")
	}
	defer client.Close()
	if err := client.Subscribe(transport.StatusWildcard); err != nil {
		log.Fatal().Err(err).Msg("subscribe to status channel")
	}

	monitor := health.NewMonitor(reg, bus, cfg.HeartbeatTimeout, cfg.MonitorPeriod, log)
	coord := recording.New(reg, client, bus, log)
	lifecycleMachine := lifecycle.New(reg, cfg.ReadyTTL)

	client.SetStatusHandler(func(topic string, payload []byte) {
		handleStatus(payload, reg, monitor, coord, lifecycleMachine, log)
	})
	go monitor.Run(ctx)

	var db *store.DB
	if cfg.DatabaseURL != "" {
		db, err = store.Connect(ctx, cfg.DatabaseURL, log)
		if err != nil {
			log.Error().Err(err).Msg("store connect failed, continuing without history")
		} else {
			if err := store.Migrate(cfg.DatabaseURL, log); err != nil {
				log.Error().Err(err).Msg("store migrate failed, continuing without history")
			}
			defer db.Close()
			go db.WatchRegistry(ctx, bus, log)
		}
	}

	// Discovery: advertise as the controller service, browse for modules,
	// and fold browse results straight into the registry (spec §4.1/§4.4).
	privateIP, err := discovery.WaitForPrivateAddress(ctx, splitCSV(cfg.PrivateRangeCIDRs), cfg.DiscoveryRetry, log)
	if err != nil {
		log.Fatal().Err(err).Msg("waiting for private address")
	}
	advertiser, err := discovery.Advertise(discovery.AdvertiseOptions{
		Service:  discovery.ServiceController,
		Instance: "controller",
		Port:     mqttPort(brokerURL),
		IP:       privateIP,
		TXT:      []string{"type=controller"},
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("advertise failed, modules must be configured with a static broker URL")
	} else {
		defer advertiser.Close()
	}

	browser := discovery.NewBrowser(discovery.ServiceModule, cfg.DiscoveryRetry, log)
	go browser.Run(ctx)
	go reconcileDiscovery(browser, reg, log)

	collector := metrics.NewCollector(reg, coord, nil)
	prometheusRegister(collector, log)

	var historyHandlers *api.HistoryHandlers
	if db != nil {
		historyHandlers = api.NewHistoryHandlers(db, db)
	}

	server := api.New(api.Config{
		Addr:            cfg.HTTPAddr,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		AuthToken:       cfg.AuthToken,
		RateLimitRPS:    int(cfg.RateLimitRPS),
		RateLimitWindow: time.Second,
		MaxBodyBytes:    1 << 20,
		MetricsEnabled:  cfg.MetricsEnabled,
	}, reg, coord, bus, client, historyHandlers, version, startTime, log)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Run(ctx); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Str("http_addr", cfg.HTTPAddr).Msg("controller started")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("api server exited with error")
		}
	}
	log.Info().Msg("controller shutting down")
}

// handleStatus decodes one status envelope and routes it to the subsystem
// that owns the corresponding mutation (spec §6's status type dispatch).
func handleStatus(payload []byte, reg *registry.Registry, monitor *health.Monitor, coord *recording.Coordinator, lm *lifecycle.Machine, log zerolog.Logger) {
	var st transport.Status
	if err := json.Unmarshal(payload, &st); err != nil {
		log.Warn().Err(err).Msg("malformed status envelope")
		return
	}
	metrics.StatusReceivedTotal.WithLabelValues(st.Type).Inc()

	now := time.Unix(st.Timestamp, 0)
	if now.IsZero() || st.Timestamp == 0 {
		now = time.Now()
	}

	switch st.Type {
	case transport.StatusHeartbeat:
		monitor.Receive(health.Heartbeat{ModuleID: st.ModuleID, At: now, Sample: decodeSample(st.Extra)})
	case transport.StatusRecordingStarted:
		coord.HandleRecordingStarted(sessionID(st.Extra), st.ModuleID)
		_ = lm.Apply(st.ModuleID, registry.StatusRecording, "recording_started", now)
	case transport.StatusRecordingStartFail:
		coord.HandleRecordingStartFailed(sessionID(st.Extra), st.ModuleID, reason(st.Extra))
	case transport.StatusRecordingStopped:
		coord.HandleRecordingStopped(sessionID(st.Extra), st.ModuleID)
		_ = lm.Apply(st.ModuleID, registry.StatusNotReady, "recording_stopped", now)
	case transport.StatusRecordingStopFail:
		coord.HandleRecordingStopFailed(sessionID(st.Extra), st.ModuleID, reason(st.Extra))
	case transport.StatusValidateReadiness:
		if ready, _ := st.Extra["ready"].(bool); ready {
			_ = lm.Apply(st.ModuleID, registry.StatusReady, "validate_readiness", now)
		} else {
			_ = reg.SetNotReady(st.ModuleID, reason(st.Extra))
		}
	case transport.StatusSetConfig:
		if cfg, ok := st.Extra["config"].(map[string]any); ok {
			_ = reg.SetConfig(st.ModuleID, cfg)
		}
		// A config change always forces a re-validation cycle before the
		// module may record again (spec §4.6: "READY -> NOT_READY: ... on
		// config change").
		_ = lm.Apply(st.ModuleID, registry.StatusNotReady, "config_changed", now)
	case transport.StatusError:
		errMsg, _ := st.Extra["error"].(string)
		log.Warn().Str("module_id", st.ModuleID).Str("error", errMsg).Msg("module reported error")
	}
}

func decodeSample(extra map[string]any) health.Sample {
	num := func(k string) float64 { v, _ := extra[k].(float64); return v }
	flag := func(k string) bool { v, _ := extra[k].(bool); return v }
	return health.Sample{
		CPUTempC:         num("cpu_temp_c"),
		CPUUtilPercent:   num("cpu_util_percent"),
		MemUtilPercent:   num("mem_util_percent"),
		UptimeSeconds:    num("uptime_seconds"),
		FreeSpacePercent: num("free_space_percent"),
		HWSyncOffsetUS:   num("hw_sync_offset_us"),
		HWSyncFreqPPB:    num("hw_sync_freq_ppb"),
		SysSyncOffsetUS:  num("sys_sync_offset_us"),
		SysSyncFreqPPB:   num("sys_sync_freq_ppb"),
		Recording:        flag("recording"),
		Streaming:        flag("streaming"),
	}
}

func sessionID(extra map[string]any) string {
	v, _ := extra["session_id"].(string)
	return v
}

func reason(extra map[string]any) string {
	v, _ := extra["reason"].(string)
	return v
}

// reconcileDiscovery folds browse events into the registry. Gone events are
// intentionally not removals — Health, not Discovery, decides reachability
// (spec §4.1) — so a peer_gone only marks offline, it never deletes the
// record.
//
// Before upserting an added/updated peer it checks the registry for the two
// collision shapes spec §4.1/§8 scenario 5 name: the same IP already claimed
// by a different id (a module reimaged or replaced in place) resolves via
// Rename, and the same id already claimed by a different IP (a module that
// picked up a new DHCP lease) resolves via UpdateIP. Plain Upsert only
// covers the no-collision case.
func reconcileDiscovery(browser *discovery.Browser, reg *registry.Registry, log zerolog.Logger) {
	for ev := range browser.Events() {
		switch ev.Kind {
		case discovery.EventPeerAdded, discovery.EventPeerUpdated:
			if ev.Peer.ID == "" {
				continue
			}
			resolveDiscoveryCollision(reg, ev.Peer, log)
			if _, err := reg.Upsert(ev.Peer.ID, ev.Peer.IP, ev.Peer.Port, ev.Peer.Type); err != nil {
				log.Warn().Err(err).Str("module_id", ev.Peer.ID).Msg("registry upsert from discovery failed")
			}
		case discovery.EventPeerGone:
			if ev.Peer.ID == "" {
				continue
			}
			if err := reg.MarkOnline(ev.Peer.ID, false); err != nil {
				log.Warn().Err(err).Str("module_id", ev.Peer.ID).Msg("registry mark-offline from discovery failed")
			}
		}
	}
}

// resolveDiscoveryCollision finds an existing registry record that conflicts
// with a freshly discovered peer by IP or by id but not both, and rewrites
// that record in place before Upsert runs. Upsert itself has no visibility
// into "this id used to live at a different IP" or "this IP used to belong
// to a different id" — only a scan over the full table can find that.
func resolveDiscoveryCollision(reg *registry.Registry, peer discovery.Peer, log zerolog.Logger) {
	for _, rec := range reg.All() {
		switch {
		case rec.IP == peer.IP && rec.ModuleID != peer.ID:
			// Same address, different id: the module at this IP was renamed
			// (or replaced) — migrate the existing record's id forward.
			if err := reg.Rename(rec.ModuleID, peer.ID); err != nil {
				log.Warn().Err(err).Str("old_module_id", rec.ModuleID).Str("new_module_id", peer.ID).Msg("registry rename from discovery collision failed")
			}
			return
		case rec.ModuleID == peer.ID && rec.IP != peer.IP:
			// Same id, different address: the module picked up a new IP.
			if err := reg.UpdateIP(rec.ModuleID, peer.IP); err != nil {
				log.Warn().Err(err).Str("module_id", rec.ModuleID).Str("new_ip", peer.IP).Msg("registry update-ip from discovery collision failed")
			}
			return
		}
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func mqttPort(brokerURL string) int {
	_, portStr, err := net.SplitHostPort(stripScheme(brokerURL))
	if err != nil {
		return 1883
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	if port == 0 {
		return 1883
	}
	return port
}

// prometheusRegister registers the fleet/session collector with the
// default registry, tolerating a re-registration (e.g. if this were ever
// called twice in a test) by logging rather than panicking.
func prometheusRegister(c *metrics.Collector, log zerolog.Logger) {
	if err := prometheus.Register(c); err != nil {
		log.Warn().Err(err).Msg("failed to register fleet metrics collector")
	}
}

func stripScheme(url string) string {
	for i := 0; i < len(url); i++ {
		if url[i] == '/' && i+1 < len(url) && url[i+1] == '/' {
			return url[i+2:]
		}
	}
	return url
}

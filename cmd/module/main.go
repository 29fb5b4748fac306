// Command module runs one SAVIOUR module agent (spec §4): discovery,
// time-sync supervision, the command dispatcher, the readiness suite, the
// per-module recording state machine, and the export pipeline. Structure
// mirrors cmd/controller/main.go and, beneath it, the teacher's
// cmd/tr-engine/main.go: parse flags, load config, build a base logger,
// wire subsystems bottom-up, start them, block on signal.NotifyContext,
// shut down in reverse order.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/saviour/saviour/internal/appconfig"
	"github.com/saviour/saviour/internal/command"
	"github.com/saviour/saviour/internal/configtree"
	"github.com/saviour/saviour/internal/discovery"
	"github.com/saviour/saviour/internal/export"
	"github.com/saviour/saviour/internal/health"
	"github.com/saviour/saviour/internal/readiness"
	"github.com/saviour/saviour/internal/recording"
	"github.com/saviour/saviour/internal/timesync"
	"github.com/saviour/saviour/internal/transport"
)

var version = "dev"

func main() {
	var overrides appconfig.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "override LOG_LEVEL")
	flag.StringVar(&overrides.MQTTBrokerURL, "mqtt-broker-url", "", "override MQTT_BROKER_URL")
	flag.StringVar(&overrides.ModuleName, "module-name", "", "override MODULE_NAME")
	flag.StringVar(&overrides.ModuleType, "module-type", "", "override MODULE_TYPE")
	flag.Parse()

	os.Setenv("SAVIOUR_ROLE", "module")
	cfg, err := appconfig.Load(overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.Role = "module"
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Str("role", "module").Str("module_type", cfg.ModuleType).Logger().Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	moduleID, err := loadOrCreateModuleID(filepath.Join(cfg.RecordingRoot, ".module_id"))
	if err != nil {
		log.Fatal().Err(err).Msg("load/create module id")
	}
	moduleName := cfg.ModuleName
	if moduleName == "" {
		moduleName = fmt.Sprintf("%s_%s", cfg.ModuleType, shortID(moduleID))
	}
	log = log.With().Str("module_id", moduleID).Str("module_name", moduleName).Logger()

	// Filesystem layout per module (spec §6): pending/ (open segment),
	// to_export/ (closed, awaiting upload), exported/ (uploaded, retained
	// per the local retention policy).
	pendingDir := filepath.Join(cfg.RecordingRoot, "pending")
	toExportDir := filepath.Join(cfg.RecordingRoot, "to_export")
	exportedDir := filepath.Join(cfg.RecordingRoot, "exported")
	for _, d := range []string{pendingDir, toExportDir, exportedDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", d).Msg("create recording directory")
		}
	}

	configTree, err := configtree.NewFromFiles(
		filepath.Join(cfg.RecordingRoot, "base_config.json"),
		filepath.Join(cfg.RecordingRoot, cfg.ModuleType+"_defaults.json"),
		filepath.Join(cfg.RecordingRoot, "active_config.json"),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("load config tree")
	}

	ledger, err := recording.OpenLedger(filepath.Join(cfg.RecordingRoot, "ledger.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("open recording ledger")
	}
	defer ledger.Close()

	client, err := transport.Connect(transport.Options{
		BrokerURL: cfg.MQTTBrokerURL,
		ClientID:  "saviour-module-" + moduleID,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		Log:       log.With().Str("component", "transport.client").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect to broker")
	}
	defer client.Close()

	group := cfg.Group
	if err := client.SetSubscriptions(transport.ModuleSubscriptions(moduleID, group)); err != nil {
		log.Fatal().Err(err).Msg("subscribe to command channel")
	}

	// TimeSync: driven by the systemd-backed ServiceController (spec §4.3);
	// slave role unless TimesyncRole is "grandmaster".
	svcCtl := newSystemdServiceController(log)
	role := timesync.RoleSlave
	if cfg.TimesyncRole == "grandmaster" {
		role = timesync.RoleGrandmaster
	}
	tsCfg := timesync.Config{
		OffsetThresholdUS: float64(cfg.OffsetThresholdUS),
		FreqThresholdPPB:  float64(cfg.FreqThresholdPPB),
		BaseDelay:         cfg.BaseRestartDelay,
		StabilizeWindow:   cfg.StabilizeWindow,
		MaxAttempt:        5,
		PollInterval:      5 * time.Second,
	}
	supervisor := timesync.NewSupervisor(svcCtl, tsCfg, role, log)
	go func() {
		if err := supervisor.Run(ctx); err != nil {
			log.Error().Err(err).Msg("timesync supervisor exited")
		}
	}()

	// Recording: device writer / format fixer / stager are the
	// out-of-scope capture back-end's stand-ins (spec §1/§4.7).
	gatherer := newProcGatherer(cfg.RecordingRoot, supervisor)
	stager := newSegmentStager(toExportDir, moduleName, ledger)
	stateMachine := recording.New(
		pendingDir,
		time.Duration(cfg.SegmentLengthSeconds)*time.Second,
		&fileDeviceWriter{},
		noopFormatFixer{},
		stager,
		gatherer,
		log,
	)
	gatherer.recording = stateMachine

	// Export: two-phase-rename upload to the mounted share, rate-limited,
	// with manifest emission and retention (spec §4.8). Share credentials
	// come from the config tree's environment-whitelisted keys
	// (export.share_host/username/password), not the bootstrap process
	// config — they are recording-domain settings, not transport settings.
	mounter := newShareMounter(cfg.ShareMountPoint, configString(configTree, "export.share_host"), configString(configTree, "export.share_username"), configString(configTree, "export.share_password"), log)
	limiter := export.NewDestinationLimiter(int(cfg.ExportMaxBPS), int(cfg.ExportBurstB))
	manifests := export.NewManifestWriter(cfg.ManifestEnabled, func() ([]byte, error) {
		return json.Marshal(configTree.GetAll())
	})
	pipeline := export.New(export.Config{
		ToExportDir:    toExportDir,
		ExportedDir:    exportedDir,
		DeleteOnExport: cfg.DeleteOnExport,
	}, mounter, limiter, manifests, log.With().Str("component", "export.pipeline").Logger())
	pipeline.Start(ctx)

	watcher := export.NewWatcher(toExportDir, parseStagedName, pipeline, log)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Error().Err(err).Msg("export watcher exited")
		}
	}()

	// Recover any segments staged before a crash that never got enqueued:
	// files already sitting in to_export/ at startup are fed straight to
	// the pipeline rather than waiting for a fresh fsnotify event.
	if names, err := export.WatchDir(toExportDir); err == nil {
		for _, n := range names {
			sessionName, moduleNameFromFile := parseStagedName(n)
			if sessionName == "" {
				continue
			}
			pipeline.Enqueue(export.Job{
				ModuleName:  moduleNameFromFile,
				SessionName: sessionName,
				LocalPath:   filepath.Join(toExportDir, n),
			})
		}
	} else {
		log.Warn().Err(err).Msg("scan to_export/ for crash-recovered segments failed")
	}

	// Readiness suite (spec §4.6): module running, recording dir writable,
	// free disk, sync offset, not currently recording.
	suite := readiness.NewSuite(
		readiness.ModuleRunningCheck(),
		readiness.DiskWritableCheck(pendingDir),
		readiness.FreeDiskSpaceCheck(pendingDir, cfg.RequiredDiskSpaceMB),
		readiness.SyncOffsetCheck(supervisor),
		readiness.NotRecordingCheck(stateMachine),
	)

	dispatcher := command.New(client, moduleID, moduleName, 5*time.Second, log)
	handlers := &moduleHandlers{
		moduleType:      cfg.ModuleType,
		moduleName:      moduleName,
		stateMachine:    stateMachine,
		ledger:          ledger,
		configTree:      configTree,
		suite:           suite,
		supervisor:      supervisor,
		serviceCtl:      svcCtl,
		requestShutdown: stop,
	}
	handlers.register(dispatcher)
	client.SetStatusHandler(func(topic string, payload []byte) {
		cmd, err := transport.DecodeCommand(string(payload))
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("malformed command envelope")
			return
		}
		dispatcher.Enqueue(cmd)
	})
	go dispatcher.Run(ctx)

	// Health: publish a heartbeat every heartbeat_interval (spec §4.5).
	publisher := health.NewPublisher(client, gatherer, moduleID, moduleName, cfg.HeartbeatInterval, log)
	go publisher.Run(ctx)

	// Config changes force a re-readiness cycle on the controller's view
	// via the set_config status event (spec §4.6); locally there is no
	// cached readiness to invalidate since validate_readiness always
	// recomputes from scratch. A changed "group" key does need an
	// immediate local reaction: resubscribe atomically to the new group's
	// command topic with no controller coordination (spec §4.2).
	diffs, cancelSub := configTree.Subscribe()
	defer cancelSub()
	go func() {
		currentGroup := group
		for d := range diffs {
			log.Info().Interface("changed", d.Changed).Msg("config changed")
			newGroup, changed := d.Changed["group"]
			if !changed {
				continue
			}
			g, _ := newGroup.(string)
			if g == currentGroup {
				continue
			}
			if err := client.SetSubscriptions(transport.ModuleSubscriptions(moduleID, g)); err != nil {
				log.Error().Err(err).Str("group", g).Msg("group resubscribe failed")
				continue
			}
			currentGroup = g
		}
	}()

	// Discovery: advertise as a module service, browse for the controller,
	// and rebuild the transport connection on a controller endpoint change
	// (spec §4.1/§4.2).
	privateIP, err := discovery.WaitForPrivateAddress(ctx, splitCSV(cfg.PrivateRangeCIDRs), cfg.DiscoveryRetry, log)
	if err != nil {
		log.Fatal().Err(err).Msg("waiting for private address")
	}
	advertiser, err := discovery.Advertise(discovery.AdvertiseOptions{
		Service:  discovery.ServiceModule,
		Instance: fmt.Sprintf("%s_%s", cfg.ModuleType, moduleID),
		Port:     managementPort(cfg),
		IP:       privateIP,
		TXT:      []string{"id=" + moduleID, "name=" + moduleName, "type=" + cfg.ModuleType},
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("advertise failed, controller must be configured with a static broker URL")
	} else {
		defer advertiser.Close()
	}

	browser := discovery.NewBrowser(discovery.ServiceController, cfg.DiscoveryRetry, log)
	go browser.Run(ctx)
	go reconcileControllerDiscovery(browser, client, cfg.MQTTBrokerURL, log)

	log.Info().Str("broker", cfg.MQTTBrokerURL).Str("version", version).Msg("module started")
	<-ctx.Done()
	log.Info().Msg("module shutting down")

	if stateMachine.IsRecording() {
		if err := stateMachine.Stop(); err != nil {
			log.Warn().Err(err).Msg("stop recording on shutdown")
		}
	}
	pipeline.Stop()
}

// reconcileControllerDiscovery rebuilds the transport connection whenever
// discovery reports a different controller endpoint than the one currently
// connected (spec §4.1 "peer_added(controller) triggers Transport connect
// ... but only if the discovered endpoint differs from the currently-
// connected one"; spec §4.2's reconnection-on-controller-change path).
func reconcileControllerDiscovery(browser *discovery.Browser, client *transport.Client, currentBrokerURL string, log zerolog.Logger) {
	last := currentBrokerURL
	for ev := range browser.Events() {
		if ev.Kind != discovery.EventPeerAdded && ev.Kind != discovery.EventPeerUpdated {
			continue
		}
		if ev.Peer.IP == "" {
			continue
		}
		candidate := fmt.Sprintf("tcp://%s:%d", ev.Peer.IP, ev.Peer.Port)
		if candidate == last {
			continue
		}
		log.Info().Str("broker", candidate).Msg("discovered new controller endpoint, rebuilding transport")
		if err := client.Rebuild(candidate); err != nil {
			log.Error().Err(err).Str("broker", candidate).Msg("transport rebuild failed")
			continue
		}
		last = candidate
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

func managementPort(cfg *appconfig.Config) int {
	if cfg.ExportPort != 0 {
		return cfg.ExportPort
	}
	return 9000
}

// configString reads a string-valued config path, defaulting to "" if
// absent or of a different type.
func configString(tree *configtree.Tree, path string) string {
	v, ok := tree.Get(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
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

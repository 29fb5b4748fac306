package appconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func setEnvs(t *testing.T, kv map[string]string) func() {
	t.Helper()
	var unset []string
	for k, v := range kv {
		if _, had := os.LookupEnv(k); !had {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}
	return func() {
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"SAVIOUR_ROLE":    "module",
		"MQTT_BROKER_URL": "tcp://localhost:1883",
		"MODULE_TYPE":     "camera",
	})
	defer cleanup()

	cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HeartbeatInterval.Seconds() != 30 {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.ReadyTTL.Seconds() != 120 {
		t.Errorf("ReadyTTL = %v, want 120s", cfg.ReadyTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadCLIOverridesWin(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"SAVIOUR_ROLE":    "controller",
		"MQTT_BROKER_URL": "tcp://localhost:1883",
	})
	defer cleanup()

	cfg, err := Load(Overrides{
		EnvFile:       "nonexistent.env",
		HTTPAddr:      ":9090",
		MQTTBrokerURL: "tcp://override:1883",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
	}
	if cfg.MQTTBrokerURL != "tcp://override:1883" {
		t.Errorf("MQTTBrokerURL = %q, want override", cfg.MQTTBrokerURL)
	}
	if !cfg.AuthGenerated || cfg.AuthToken == "" {
		t.Error("expected AuthToken to be auto-generated for controller role")
	}
}

func TestValidateRejectsMissingModuleType(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"SAVIOUR_ROLE":    "module",
		"MQTT_BROKER_URL": "tcp://localhost:1883",
	})
	defer cleanup()
	os.Unsetenv("MODULE_TYPE")

	cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.ModuleType = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject empty ModuleType for module role")
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("SAVIOUR_ROLE=module\nMQTT_BROKER_URL=tcp://fromfile:1883\nMODULE_TYPE=mic\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	os.Unsetenv("SAVIOUR_ROLE")
	os.Unsetenv("MQTT_BROKER_URL")
	os.Unsetenv("MODULE_TYPE")

	cfg, err := Load(Overrides{EnvFile: envPath})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MQTTBrokerURL != "tcp://fromfile:1883" {
		t.Errorf("MQTTBrokerURL = %q, want tcp://fromfile:1883", cfg.MQTTBrokerURL)
	}
}

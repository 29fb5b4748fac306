package configtree

import (
	"encoding/json"
	"fmt"
	"os"
)

// envWhitelist is the fixed set of dotted paths that may be overridden by
// environment variables (spec §4.9: "a fixed whitelist of keys: transport
// ports, share credentials"). The environment variable name is the dotted
// path upper-cased with dots turned to underscores and a SAVIOUR_ prefix.
var envWhitelist = []string{
	"transport.mqtt_port",
	"transport.api_port",
	"transport.discovery_port",
	"export.share_username",
	"export.share_password",
	"export.share_host",
}

// LoadFile reads a JSON document (base_config.json or a module-type
// defaults file) from disk into a nested map tree. A missing file yields an
// empty tree rather than an error, since base/type defaults are optional
// layers.
func LoadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("configtree: read %s: %w", path, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("configtree: parse %s: %w", path, err)
	}
	return m, nil
}

// LoadEnvOverrides reads envWhitelist's variables from the process
// environment, translating SAVIOUR_TRANSPORT_MQTT_PORT-style names back to
// dotted paths. Unset variables are omitted so they don't shadow lower
// layers with an empty string.
func LoadEnvOverrides(lookup func(string) (string, bool)) map[string]any {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	out := make(map[string]any)
	for _, path := range envWhitelist {
		envName := "SAVIOUR_" + toEnvName(path)
		val, ok := lookup(envName)
		if !ok {
			continue
		}
		setPath(out, path, val)
	}
	return out
}

func toEnvName(path string) string {
	out := make([]byte, 0, len(path))
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c == '.':
			out = append(out, '_')
		case c >= 'a' && c <= 'z':
			out = append(out, c-('a'-'A'))
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// NewFromFiles builds a Tree from the standard on-disk layout: a base
// defaults file shared by every module, a type defaults file specific to
// this module's type, an environment-derived override layer, and a
// persisted-overrides file this Tree owns (active_config.json, spec §6).
func NewFromFiles(baseConfigPath, typeDefaultsPath, activeConfigPath string) (*Tree, error) {
	base, err := LoadFile(baseConfigPath)
	if err != nil {
		return nil, err
	}
	typeDefaults, err := LoadFile(typeDefaultsPath)
	if err != nil {
		return nil, err
	}
	env := LoadEnvOverrides(nil)
	return New(base, typeDefaults, env, activeConfigPath)
}

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(restartPTPCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read or relay a change to a module's config tree",
}

// configGetCmd and configSetCmd relay over the command channel (spec
// §4.6): the controller never caches module config, so there is no
// synchronous response here — the module's reply surfaces on the live
// feed, not in this request.
var configGetCmd = &cobra.Command{
	Use:   "get MODULE_ID",
	Short: "Request a module's current config (answer arrives on the live feed)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	if err := newClient().get("/api/v1/modules/"+args[0]+"/config", nil); err != nil {
		return err
	}
	fmt.Printf("get_config requested for %s; watch `saviourctl watch` for the reply\n", args[0])
	return nil
}

var configSetCmd = &cobra.Command{
	Use:   "set MODULE_ID KEY=VALUE [KEY=VALUE ...]",
	Short: "Relay a config change to a module",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runConfigSet,
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	params := make(map[string]any, len(args)-1)
	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid KEY=VALUE pair: %q", kv)
		}
		params[k] = parseConfigValue(v)
	}
	if err := newClient().put("/api/v1/modules/"+args[0]+"/config", params, nil); err != nil {
		return err
	}
	fmt.Printf("set_config requested for %s (%d key(s))\n", args[0], len(params))
	return nil
}

// parseConfigValue lets operators pass numbers, booleans, and JSON
// literals on the command line without quoting, falling back to a plain
// string when the value isn't valid JSON.
func parseConfigValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

var restartPTPCmd = &cobra.Command{
	Use:   "restart-ptp MODULE_ID",
	Short: "Ask a module to restart its time-sync service (sys_sync) immediately",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestartPTP,
}

func runRestartPTP(cmd *cobra.Command, args []string) error {
	if err := newClient().post("/api/v1/modules/"+args[0]+"/restart-ptp", nil, nil); err != nil {
		return err
	}
	fmt.Printf("restart_ptp requested for %s\n", args[0])
	return nil
}

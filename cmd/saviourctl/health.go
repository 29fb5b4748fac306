package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historySessionsCmd)
	historyCmd.AddCommand(historyHealthCmd)

	historySessionsCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum rows to return")
	historyHealthCmd.Flags().IntVar(&historyLimit, "limit", 500, "maximum rows to return")
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the controller process is up",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	var h healthResponse
	if err := newClient().get("/api/v1/health", &h); err != nil {
		return err
	}
	fmt.Printf("status: %s  version: %s  uptime: %ds\n", h.Status, h.Version, h.UptimeSeconds)
	return nil
}

// historyCmd reads the durable audit log (spec §9 Open Question (b)):
// unavailable when the controller was started without DatabaseURL, in
// which case the controller simply doesn't mount these routes and the
// request 404s.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the durable session and health-sample history",
}

var historySessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List past recording sessions",
	RunE:  runHistorySessions,
}

func runHistorySessions(cmd *cobra.Command, args []string) error {
	var rows []sessionHistoryEntry
	path := fmt.Sprintf("/api/v1/history/sessions?limit=%d", historyLimit)
	if err := newClient().get(path, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No session history.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTARGET\tSTARTED\tENDED")
	for _, r := range rows {
		ended := "-"
		if r.EndedAt != nil {
			ended = *r.EndedAt
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Target, r.StartedAt, ended)
	}
	return w.Flush()
}

var historyHealthCmd = &cobra.Command{
	Use:   "health MODULE_ID",
	Short: "Show a module's recent health samples",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryHealth,
}

func runHistoryHealth(cmd *cobra.Command, args []string) error {
	var rows []healthSampleRow
	path := fmt.Sprintf("/api/v1/history/modules/%s/health?limit=%d", args[0], historyLimit)
	if err := newClient().get(path, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No health history.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tCPU%\tMEM%\tFREE DISK%\tHW OFFSET(us)\tSYS OFFSET(us)")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\n",
			r.WallTimestamp, r.CPUUtilPercent, r.MemUtilPercent, r.FreeSpacePercent,
			r.HWSyncOffsetUS, r.SysSyncOffsetUS)
	}
	return w.Flush()
}

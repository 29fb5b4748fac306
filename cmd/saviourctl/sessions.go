package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	startDurationSecs int
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsStartCmd)
	sessionsCmd.AddCommand(sessionsStopCmd)

	sessionsStartCmd.Flags().IntVar(&startDurationSecs, "duration", 0, "auto-stop after this many seconds (0 = no auto-stop)")
}

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session", "rec"},
	Short:   "Start, stop, and inspect recording sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List active recording sessions",
	RunE:    runSessionsList,
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	var sessions []session
	if err := newClient().get("/api/v1/sessions", &sessions); err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No active sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION ID\tNAME\tTARGET\tMEMBERS\tACTIVE\tSTARTED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\n",
			s.ID, s.Name, s.Target, len(s.Members), s.Active, s.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show SESSION_ID",
	Short: "Show a session's per-member outcomes",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	var s session
	if err := newClient().get("/api/v1/sessions/"+args[0], &s); err != nil {
		return err
	}
	fmt.Printf("Session ID: %s\n", s.ID)
	fmt.Printf("Name:       %s\n", s.Name)
	fmt.Printf("Target:     %s\n", s.Target)
	fmt.Printf("Started:    %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	if s.Duration != nil {
		fmt.Printf("Duration:   %s\n", *s.Duration)
	}
	fmt.Println("Members:")
	for _, m := range s.Members {
		fmt.Printf("  %s: %s\n", m, s.Outcomes[m])
	}
	return nil
}

var sessionsStartCmd = &cobra.Command{
	Use:   "start TARGET SESSION_NAME",
	Short: "Start a recording session on a module or group",
	Long: `TARGET is either a module id or a group name (spec: a bare
module id is its own singleton group). SESSION_NAME identifies the
session; the controller appends a start timestamp to form the durable
name.`,
	Args: cobra.ExactArgs(2),
	RunE: runSessionsStart,
}

func runSessionsStart(cmd *cobra.Command, args []string) error {
	req := startSessionRequest{Target: args[0], SessionName: args[1]}
	if startDurationSecs > 0 {
		req.DurationSecs = &startDurationSecs
	}
	var s session
	if err := newClient().post("/api/v1/sessions", req, &s); err != nil {
		return err
	}
	fmt.Printf("Started session %s (%s) targeting %s across %d member(s)\n", s.ID, s.Name, s.Target, len(s.Members))
	return nil
}

var sessionsStopCmd = &cobra.Command{
	Use:   "stop SESSION_ID",
	Short: "Stop a recording session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsStop,
}

func runSessionsStop(cmd *cobra.Command, args []string) error {
	if err := newClient().post("/api/v1/sessions/"+args[0]+"/stop", nil, nil); err != nil {
		return err
	}
	fmt.Printf("Stop requested for session %s\n", args[0])
	return nil
}

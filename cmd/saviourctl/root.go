package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagAddr  string
	flagToken string
)

var rootCmd = &cobra.Command{
	Use:   "saviourctl",
	Short: "Operator CLI for a SAVIOUR controller",
	Long: `saviourctl talks to a SAVIOUR controller's HTTP API: list and
inspect modules, start and stop recording sessions, read and write module
config, and replay the durable session/health history.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "controller base URL (default http://localhost:8080, or $SAVIOURCTL_ADDR)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer auth token (default $SAVIOUR_AUTH_TOKEN)")
}

// resolveAddr applies the same flag > env > default priority appconfig.Load
// uses for the controller and module binaries.
func resolveAddr() string {
	if flagAddr != "" {
		return flagAddr
	}
	if v := os.Getenv("SAVIOURCTL_ADDR"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func resolveToken() string {
	if flagToken != "" {
		return flagToken
	}
	return os.Getenv("SAVIOUR_AUTH_TOKEN")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

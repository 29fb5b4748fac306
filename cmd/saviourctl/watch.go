package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream the controller's live event feed (status, config replies, session outcomes)",
	RunE:  runWatch,
}

type feedFrame struct {
	Type string          `json:"type"`
	At   int64           `json:"at"`
	Data json.RawMessage `json:"data"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	c := newClient()
	wsURL, err := toWebsocketURL(c.baseURL)
	if err != nil {
		return fmt.Errorf("resolve feed url: %w", err)
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		return fmt.Errorf("connect to live feed: %w", err)
	}
	defer conn.Close()

	fmt.Fprintln(cmd.OutOrStdout(), "connected, streaming events (ctrl-c to stop)")
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("live feed closed: %w", err)
		}
		var frame feedFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", frame.Type, string(frame.Data))
	}
}

// toWebsocketURL rewrites the operator's http(s) base URL into the ws(s)
// scheme gorilla/websocket's dialer expects, pointed at the live feed route.
func toWebsocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/live"
	return u.String(), nil
}

package transport

import (
	"fmt"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/rs/zerolog"
)

// Broker is a self-contained MQTT broker the controller can run so the fleet
// needs no externally operated message broker. Modules and the controller's
// own Client both connect to it as ordinary MQTT clients.
type Broker struct {
	server *mqtt.Server
	log    zerolog.Logger
}

// NewBroker creates and starts an embedded broker listening on addr (e.g.
// ":1883").
func NewBroker(addr string, log zerolog.Logger) (*Broker, error) {
	server := mqtt.New(&mqtt.Options{InlineClient: true})

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("add auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "saviour-fabric", Address: addr})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("add listener: %w", err)
	}

	b := &Broker{server: server, log: log}
	if err := server.Serve(); err != nil {
		return nil, fmt.Errorf("serve: %w", err)
	}
	log.Info().Str("addr", addr).Msg("embedded mqtt broker started")
	return b, nil
}

// Close stops the broker, disconnecting all connected clients.
func (b *Broker) Close() error {
	b.log.Info().Msg("stopping embedded mqtt broker")
	return b.server.Close()
}

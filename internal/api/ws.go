package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/saviour/saviour/internal/eventbus"
)

// LiveFeedHandler streams every eventbus event to connected operator
// clients, one JSON text message per event (spec §4.8: "a thin live view,
// not a full operator UI" — a WebSocket firehose is enough for that).
// Grounded on the shape of the teacher's SSE stream, generalized from
// Server-Sent Events to a gorilla/websocket connection because SAVIOUR's
// feed never needs last-event-id replay across an HTTP reconnect.
type LiveFeedHandler struct {
	bus      *eventbus.Bus
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewLiveFeedHandler(bus *eventbus.Bus, log zerolog.Logger) *LiveFeedHandler {
	return &LiveFeedHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "api.livefeed").Logger(),
	}
}

type feedFrame struct {
	Type string `json:"type"`
	At   int64  `json:"at"`
	Data any    `json:"data"`
}

func (h *LiveFeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch, cancel := h.bus.Subscribe(nil)
	defer cancel()

	// A reader goroutine drains and discards client frames purely so the
	// connection's close/ping control frames get processed; this feed is
	// one-directional.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case e, ok := <-ch:
			if !ok {
				return
			}
			frame := feedFrame{Type: eventTypeName(e), At: time.Now().Unix(), Data: e}
			payload, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

func eventTypeName(e eventbus.Event) string {
	return fmt.Sprintf("%T", e)
}

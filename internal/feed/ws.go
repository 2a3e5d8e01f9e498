package feed

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/polarlab/brisk/internal/ratelimit"
)

// WSMessage is the JSON message format for inbound WebSocket messages.
type WSMessage struct {
	Type    string          `json:"type"` // "subscribe", "ping", "disconnect"
	Payload json.RawMessage `json:"payload"`
}

// WSResponse is a JSON message sent to the client.
type WSResponse struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// SubscribePayload is the payload for a "subscribe" message.
type SubscribePayload struct {
	ParticipantID string `json:"participant_id"`
}

const keepaliveInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket returns an HTTP handler that upgrades connections and
// streams hub events. Clients may narrow the stream with a "subscribe"
// message; until then they receive everything.
func HandleWebSocket(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		id := uuid.New().String()
		sub := hub.Subscribe(id, r.URL.Query().Get("participant_id"))
		defer hub.Unsubscribe(id)

		limiter := ratelimit.New(60, time.Minute)

		// Reader goroutine: handles resubscription and shutdown. Closing
		// done ends the writer loop.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				var msg WSMessage
				if err := conn.ReadJSON(&msg); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						log.Printf("websocket read error: %v", err)
					}
					return
				}

				if !limiter.Allow() {
					writeError(conn, "rate limit exceeded")
					continue
				}

				switch msg.Type {
				case "subscribe":
					var payload SubscribePayload
					if err := json.Unmarshal(msg.Payload, &payload); err != nil {
						writeError(conn, "invalid subscribe payload")
						continue
					}
					hub.SetFilter(id, payload.ParticipantID)
					resp := WSResponse{
						Type:    "subscribed",
						Payload: map[string]string{"participant_id": payload.ParticipantID},
					}
					if err := conn.WriteJSON(resp); err != nil {
						return
					}

				case "ping":
					resp := WSResponse{
						Type:    "pong",
						Payload: map[string]string{"status": "ok"},
					}
					if err := conn.WriteJSON(resp); err != nil {
						return
					}

				case "disconnect":
					_ = conn.WriteJSON(WSResponse{
						Type:    "disconnected",
						Payload: map[string]string{"status": "ok"},
					})
					return

				default:
					writeError(conn, "unknown message type: "+msg.Type)
				}
			}
		}()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-done:
				return
			case e, ok := <-sub.Ch:
				if !ok {
					return
				}
				if err := conn.WriteJSON(WSResponse{Type: "event", Payload: e}); err != nil {
					log.Printf("websocket write error: %v", err)
					return
				}
			case <-keepalive.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}
}

func writeError(conn *websocket.Conn, message string) {
	resp := WSResponse{
		Type:    "error",
		Payload: map[string]string{"error": message},
	}
	_ = conn.WriteJSON(resp)
}

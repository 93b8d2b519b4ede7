package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"deepdelve/netcore/internal/auth"
	"deepdelve/netcore/internal/logging"
)

const (
	spectatorSendBuffer  = 256
	spectatorPingPeriod  = 30 * time.Second
	spectatorWriteWindow = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// spectator is one websocket viewer of the snapshot feed.
type spectator struct {
	conn *websocket.Conn
	send chan []byte
}

// SpectatorHub relays every broadcast snapshot payload to connected websocket
// viewers. Slow viewers are disconnected rather than allowed to apply
// backpressure to the tick loop.
type SpectatorHub struct {
	logger   *logging.Logger
	verifier *auth.HMACTokenVerifier

	mu      sync.Mutex
	clients map[*spectator]struct{}
}

// NewSpectatorHub builds an empty hub.
func NewSpectatorHub(logger *logging.Logger) *SpectatorHub {
	if logger == nil {
		logger = logging.L()
	}
	return &SpectatorHub{
		logger:  logger,
		clients: make(map[*spectator]struct{}),
	}
}

// RequireToken gates new spectators behind signed tokens carried in the
// "token" query parameter.
func (hub *SpectatorHub) RequireToken(verifier *auth.HMACTokenVerifier) {
	hub.verifier = verifier
}

// Len reports the number of connected spectators.
func (hub *SpectatorHub) Len() int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.clients)
}

// Broadcast queues the payload for every connected spectator, dropping viewers
// whose send buffer is full.
func (hub *SpectatorHub) Broadcast(payload []byte) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for client := range hub.clients {
		select {
		case client.send <- payload:
		default:
			close(client.send)
			delete(hub.clients, client)
		}
	}
}

// ServeWS upgrades the request and attaches the viewer to the feed.
func (hub *SpectatorHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if hub.verifier != nil {
		claims, err := hub.verifier.Verify(r.URL.Query().Get("token"))
		if err != nil {
			hub.logger.Warn("spectator rejected", logging.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		hub.logger.Info("spectator authorized", logging.String("subject", claims.Subject))
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("spectator upgrade failed", logging.Error(err))
		return
	}
	client := &spectator{conn: conn, send: make(chan []byte, spectatorSendBuffer)}
	hub.mu.Lock()
	hub.clients[client] = struct{}{}
	hub.mu.Unlock()
	hub.logger.Info("spectator connected", logging.String("remote", r.RemoteAddr))

	go hub.readLoop(client)
	go hub.writeLoop(client)
}

// readLoop discards inbound frames; the feed is one-way. A read error means
// the viewer is gone.
func (hub *SpectatorHub) readLoop(client *spectator) {
	defer func() {
		hub.detach(client)
		client.conn.Close()
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (hub *SpectatorHub) writeLoop(client *spectator) {
	ticker := time.NewTicker(spectatorPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(spectatorWriteWindow))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(spectatorWriteWindow))
			if err := client.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

func (hub *SpectatorHub) detach(client *spectator) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.clients[client]; ok {
		delete(hub.clients, client)
	}
}

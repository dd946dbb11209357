package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// handleWebsockets is the main Hub loop
func (s *FastAPIServer) handleWebsockets() {
	for {
		select {
		case client := <-s.register:
			s.stateMutex.Lock()
			s.clients[client] = struct{}{}
			snapshot := s.latestSnapshot
			s.stateMutex.Unlock()

			// Send the latest snapshot on connect so new listeners do not
			// wait a full snapshot interval for their first state.
			if snapshot != nil {
				client.send <- models.MPushEvent{
					Type:      models.EventSnapshot,
					Timestamp: snapshot.Timestamp.UnixMilli(),
					Payload:   snapshot,
				}
			}

		case client := <-s.unregister:
			s.stateMutex.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}
			s.stateMutex.Unlock()

		case event := <-s.broadcast:
			s.applyState(event)

			s.stateMutex.Lock()
			for client := range s.clients {
				if !client.wants(event.Type) {
					continue
				}
				select {
				case client.send <- event:
				default:
					// Client too slow, disconnect to keep the Hub moving.
					delete(s.clients, client)
					close(client.send)
				}
			}
			s.stateMutex.Unlock()

		case <-s.done:
			return
		}
	}
}

// -----------------------------------------------------------------------------

// applyState caches the latest snapshot and feed status for the REST reads
// and the on-connect greeting.
func (s *FastAPIServer) applyState(event models.MPushEvent) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	switch payload := event.Payload.(type) {
	case *models.MSnapshot:
		s.latestSnapshot = payload
	case models.MSnapshot:
		s.latestSnapshot = &payload
	case *models.MStatusChange:
		s.latestStatus = payload
	case models.MStatusChange:
		s.latestStatus = &payload
	}
}

// -----------------------------------------------------------------------------
// Data Exchange Interface Implementation
// -----------------------------------------------------------------------------

// Broadcast queues a push event for fan-out. Producers never block on slow
// websocket consumers.
func (s *FastAPIServer) Broadcast(payload interface{}) {
	event, ok := payload.(models.MPushEvent)
	if !ok {
		event = models.MPushEvent{
			Timestamp: time.Now().UnixMilli(),
			Payload:   payload,
		}
		switch payload.(type) {
		case models.MMergedTrade, *models.MMergedTrade:
			event.Type = models.EventTrade
		case models.MSnapshot, *models.MSnapshot:
			event.Type = models.EventSnapshot
		case models.MStatusChange, *models.MStatusChange:
			event.Type = models.EventStatus
		default:
			s.Logger.Info("Broadcast dropped unsupported payload %T", payload)
			return
		}
	}

	select {
	case s.broadcast <- event:
	case <-s.done:
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		hub:  s,
		conn: conn,
		// Buffered channel to prevent blocking the Hub loop
		send: make(chan models.MPushEvent, 256),
	}

	s.register <- client

	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

func (s *FastAPIServer) HandleClientMessage(client *Client, message []byte) {
	var cmd models.MSubscribeCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.Logger.Info("Failed to parse client command: %v, disconnecting client", err)
		client.conn.Close()
		return
	}

	if cmd.Command != "subscribe" {
		return
	}

	client.setChannels(cmd.Channels)
}

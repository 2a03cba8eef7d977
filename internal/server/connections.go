package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageBus is the one-way path from the coordinator to a connected client.
// The coordinator never touches sockets directly; in tests the bus is a fake
// that records what would have been delivered.
type MessageBus interface {
	Send(connID string, msg ServerMessage)
}

const (
	// sendQueueSize bounds the per-connection outbound queue. Movement
	// traffic is small and frequent; 64 messages of headroom covers a
	// multi-second stall before we start shedding.
	sendQueueSize = 64

	writeTimeout = 10 * time.Second
)

type clientConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// ConnectionManager owns every open websocket and implements MessageBus over
// them. Each connection gets a buffered queue drained by its own writer
// goroutine, so Send never blocks the caller: enqueueing while the registry
// mutex is held is what preserves per-room event ordering, and a slow client
// only ever costs itself dropped messages.
type ConnectionManager struct {
	clients map[string]*clientConn
	mu      sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*clientConn),
	}
}

func (cm *ConnectionManager) AddConnection(id string, conn *websocket.Conn) {
	client := &clientConn{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}

	cm.mu.Lock()
	cm.clients[id] = client
	cm.mu.Unlock()

	// Tests register bookkeeping-only connections with a nil socket; those
	// never get a writer.
	if conn != nil {
		go client.writePump(id)
	}
}

func (cm *ConnectionManager) RemoveConnection(id string) {
	cm.mu.Lock()
	client, exists := cm.clients[id]
	delete(cm.clients, id)
	cm.mu.Unlock()

	if exists {
		close(client.done)
	}
}

// Send marshals and enqueues a message for one connection. Unknown ids and
// full queues are both quietly tolerated: the former races with disconnect,
// the latter means the client is too slow to care about this update.
func (cm *ConnectionManager) Send(connID string, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal %s message for %s: %v", msg.Type, connID, err)
		return
	}

	cm.mu.RLock()
	client, exists := cm.clients[connID]
	cm.mu.RUnlock()

	if !exists {
		return
	}

	select {
	case client.send <- data:
	case <-client.done:
	default:
		log.Printf("Dropping %s message for %s: send queue full", msg.Type, connID)
	}
}

// ConnectionCount reports the number of open connections. Used by /health.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// CloseAll closes every socket during shutdown.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for id, client := range cm.clients {
		if client.conn != nil {
			client.conn.Close(websocket.StatusGoingAway, "Server shutting down")
		}
		delete(cm.clients, id)
	}
}

func (c *clientConn) writePump(connID string) {
	for {
		select {
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Printf("Write to %s failed: %v", connID, err)
				return
			}
		case <-c.done:
			return
		}
	}
}

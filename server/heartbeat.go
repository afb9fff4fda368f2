package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ServerHeartbeatConfig holds configuration for server-side heartbeat handling
type ServerHeartbeatConfig struct {
	Enabled         bool          // Whether heartbeat handling is enabled
	ResponseTimeout time.Duration // Stored but not consulted; PONG is sent as soon as a PING is handled
	CleanupInterval time.Duration // How often to cleanup stale client connections
	MaxClientAge    time.Duration // Maximum age of client connection before cleanup
}

// DefaultServerHeartbeatConfig returns sensible default server heartbeat configuration
func DefaultServerHeartbeatConfig() *ServerHeartbeatConfig {
	return &ServerHeartbeatConfig{
		Enabled:         true,
		ResponseTimeout: 100 * time.Millisecond, // Quick response
		CleanupInterval: 2 * time.Minute,        // Cleanup every 2 minutes
		MaxClientAge:    3 * time.Minute,        // Remove clients older than 3 minutes
	}
}

// ClientHeartbeatInfo tracks client connection state
type ClientHeartbeatInfo struct {
	DeviceID  string    // Device identifier
	ClientIP  string    // Client IP address
	LastPing  time.Time // Last time client sent PING
	LastPong  time.Time // Last time server sent PONG
	IsActive  bool      // Whether connection is considered active
	PingCount int       // Number of PINGs received
	RPCActive bool      // Whether RPC is active for this client
}

// ServerHeartbeatManager handles server-side heartbeat processing with separate queues
type ServerHeartbeatManager struct {
	config   *ServerHeartbeatConfig
	deviceID string

	// Client tracking
	mutex   sync.RWMutex
	clients map[string]*ClientHeartbeatInfo // clientIP -> connection info

	// Cleanup
	stopChan chan struct{}

	// pressureFn reports the current memory pressure level for inclusion in
	// PONG responses and the PING log line; nil if no pressure bus is
	// attached.
	pressureFn func() float64
}

// NewServerHeartbeatManager creates a new server heartbeat manager
func NewServerHeartbeatManager(deviceID string, config *ServerHeartbeatConfig) *ServerHeartbeatManager {
	if config == nil {
		config = DefaultServerHeartbeatConfig()
	}

	return &ServerHeartbeatManager{
		config:   config,
		deviceID: deviceID,
		clients:  make(map[string]*ClientHeartbeatInfo),
		stopChan: make(chan struct{}),
	}
}

// SetPressureSource attaches fn as the pressure level reported alongside
// heartbeat activity.
func (shm *ServerHeartbeatManager) SetPressureSource(fn func() float64) {
	shm.pressureFn = fn
}

// Start begins server heartbeat management
func (shm *ServerHeartbeatManager) Start() {
	if !shm.config.Enabled {
		return
	}

	go shm.cleanupLoop()
	log.Printf("[server-heartbeat] Started heartbeat management for device %s", shm.deviceID)
}

// Stop stops server heartbeat management
func (shm *ServerHeartbeatManager) Stop() {
	close(shm.stopChan)
	log.Printf("[server-heartbeat] Stopped heartbeat management for device %s", shm.deviceID)
}

// HandleHeartbeatPing processes a heartbeat PING request from a client
func (shm *ServerHeartbeatManager) HandleHeartbeatPing(ch *amqp.Channel, msg amqp.Delivery) {
	if !shm.config.Enabled {
		return
	}

	var ping map[string]interface{}
	if err := json.Unmarshal(msg.Body, &ping); err != nil {
		log.Printf("[server-heartbeat] Failed to parse heartbeat ping: %v", err)
		return
	}

	deviceID := ping["deviceID"].(string)
	clientIP := ping["clientIP"].(string)
	corrID := ping["corrID"].(string)

	// Verify this server handles this device
	if deviceID != shm.deviceID {
		log.Printf("[server-heartbeat] Ignoring heartbeat for device %s (this server handles %s)",
			deviceID, shm.deviceID)
		return
	}

	// Update client connection info
	shm.mutex.Lock()
	client, exists := shm.clients[clientIP]
	if !exists {
		client = &ClientHeartbeatInfo{
			DeviceID: deviceID,
			ClientIP: clientIP,
		}
		shm.clients[clientIP] = client
	}

	client.LastPing = time.Now()
	client.IsActive = true
	client.PingCount++
	shm.mutex.Unlock()

	// Respond with PONG
	shm.sendHeartbeatPong(ch, msg.ReplyTo, corrID, deviceID, clientIP)

	pressure := 0.0
	if shm.pressureFn != nil {
		pressure = shm.pressureFn()
	}
	log.Printf("[server-heartbeat] PING received from %s (device: %s, total pings: %d, pressure: %.2f)",
		clientIP, deviceID, client.PingCount, pressure)
}

// sendHeartbeatPong sends a heartbeat PONG response to the client
func (shm *ServerHeartbeatManager) sendHeartbeatPong(ch *amqp.Channel, replyTo, corrID, deviceID, clientIP string) {
	pressure := 0.0
	if shm.pressureFn != nil {
		pressure = shm.pressureFn()
	}
	// Build heartbeat response (PONG)
	pong := map[string]interface{}{
		"type":          "heartbeat_pong",
		"deviceID":      deviceID,
		"clientIP":      clientIP,
		"timestamp":     time.Now().Unix(),
		"corrID":        corrID,
		"serverID":      shm.deviceID, // Server identifier
		"memoryPressure": pressure,
	}

	body, _ := json.Marshal(pong)

	// Send PONG response
	err := ch.PublishWithContext(context.Background(), "", replyTo, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: corrID,
		Body:          body,
	})

	if err != nil {
		log.Printf("[server-heartbeat] Failed to send PONG to %s: %v", clientIP, err)
	} else {
		log.Printf("[server-heartbeat] PONG sent to %s", clientIP)
	}
}

// cleanupLoop periodically cleans up stale client connections
func (shm *ServerHeartbeatManager) cleanupLoop() {
	ticker := time.NewTicker(shm.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shm.stopChan:
			return
		case <-ticker.C:
			shm.cleanupStaleConnections()
		}
	}
}

// cleanupStaleConnections marks clients that haven't been seen recently as
// inactive; their entries stay in the client map.
func (shm *ServerHeartbeatManager) cleanupStaleConnections() {
	shm.mutex.Lock()
	defer shm.mutex.Unlock()

	now := time.Now()
	removed := 0

	for clientIP, client := range shm.clients {
		if now.Sub(client.LastPing) > shm.config.MaxClientAge {
			client.IsActive = false
			removed++
			log.Printf("[server-heartbeat] Client %s marked as inactive (no PING for %v)",
				clientIP, now.Sub(client.LastPing))
		}
	}

	if removed > 0 {
		log.Printf("[server-heartbeat] Cleaned up %d inactive clients", removed)
	}
}

// GetActiveClients returns information about active client connections
func (shm *ServerHeartbeatManager) GetActiveClients() map[string]*ClientHeartbeatInfo {
	shm.mutex.RLock()
	defer shm.mutex.RUnlock()

	result := make(map[string]*ClientHeartbeatInfo)
	for clientIP, client := range shm.clients {
		if client.IsActive {
			result[clientIP] = &ClientHeartbeatInfo{
				DeviceID:  client.DeviceID,
				ClientIP:  client.ClientIP,
				LastPing:  client.LastPing,
				LastPong:  client.LastPong,
				IsActive:  client.IsActive,
				PingCount: client.PingCount,
				RPCActive: client.RPCActive,
			}
		}
	}

	return result
}

// GetStats returns heartbeat statistics
func (shm *ServerHeartbeatManager) GetStats() ServerHeartbeatStats {
	shm.mutex.RLock()
	defer shm.mutex.RUnlock()

	activeClients := 0
	totalPings := 0

	for _, client := range shm.clients {
		if client.IsActive {
			activeClients++
		}
		totalPings += client.PingCount
	}

	return ServerHeartbeatStats{
		DeviceID:      shm.deviceID,
		ActiveClients: activeClients,
		TotalClients:  len(shm.clients),
		TotalPings:    totalPings,
		IsEnabled:     shm.config.Enabled,
	}
}

// ServerHeartbeatStats holds server heartbeat statistics
type ServerHeartbeatStats struct {
	DeviceID      string // Device identifier
	ActiveClients int    // Number of active clients
	TotalClients  int    // Total number of clients tracked
	TotalPings    int    // Total number of PINGs received
	IsEnabled     bool   // Whether heartbeat is enabled
}

// Package mqttsink republishes the simulator's line-delimited JSON
// connection/data events (sim_connect, sim_disconnect, sim_data,
// mesh_disconnect) to an MQTT broker, for test harnesses that watch the
// simulation over the network instead of scraping stdout.
package mqttsink

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/fruitymesh/cherrysim-go/internal/logging"
)

// Config holds the MQTT broker connection parameters.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// Sink publishes simulator events as JSON to an MQTT topic.
type Sink struct {
	config Config
	client mqtt.Client
	logger *zap.Logger

	mu        sync.RWMutex
	connected bool
}

// New constructs a Sink. Connect must be called before Publish will
// deliver anything; until then Publish is a no-op so callers don't need
// to gate every call on connection state.
func New(cfg Config) *Sink {
	return &Sink{
		config: cfg,
		logger: logging.With(zap.String("sink", "mqtt")),
	}
}

// Connect dials the configured broker, matching the teacher connection
// package's auto-reconnecting client options.
func (s *Sink) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	clientID := s.config.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("cherrysim-%d", time.Now().UnixNano())
	}

	opts := mqtt.NewClientOptions().
		AddBroker(s.config.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(s.onConnectionLost)

	if s.config.Username != "" {
		opts.SetUsername(s.config.Username)
	}
	if s.config.Password != "" {
		opts.SetPassword(s.config.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqttsink: connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("mqttsink: connect: %w", token.Error())
	}

	s.client = client
	s.connected = true
	s.logger.Info("connected to MQTT broker", zap.String("broker", s.config.Broker))
	return nil
}

func (s *Sink) onConnectionLost(_ mqtt.Client, err error) {
	s.logger.Warn("MQTT connection lost", zap.Error(err))
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// simEvent mirrors the line-delimited JSON schema from the simulator's
// external interface contract.
type simEvent struct {
	Type                   string `json:"type"`
	NodeID                 uint16 `json:"nodeId,omitempty"`
	PartnerID              uint16 `json:"partnerId,omitempty"`
	GlobalConnectionHandle uint16 `json:"globalConnectionHandle,omitempty"`
	RSSI                   int32  `json:"rssi,omitempty"`
	TimeMs                 uint64 `json:"timeMs,omitempty"`
	Reason                 uint8  `json:"reason,omitempty"`
	Reliable               bool   `json:"reliable,omitempty"`
	Data                   string `json:"data,omitempty"`
}

// PublishConnect republishes a sim_connect event.
func (s *Sink) PublishConnect(nodeID, partnerID, handle uint16, rssi int32, timeMs uint64) error {
	return s.publish(simEvent{Type: "sim_connect", NodeID: nodeID, PartnerID: partnerID, GlobalConnectionHandle: handle, RSSI: rssi, TimeMs: timeMs})
}

// PublishDisconnect republishes a sim_disconnect event.
func (s *Sink) PublishDisconnect(nodeID, partnerID, handle uint16, reason uint8, timeMs uint64) error {
	return s.publish(simEvent{Type: "sim_disconnect", NodeID: nodeID, PartnerID: partnerID, GlobalConnectionHandle: handle, Reason: reason, TimeMs: timeMs})
}

// PublishData republishes a sim_data event.
func (s *Sink) PublishData(nodeID, partnerID uint16, reliable bool, timeMs uint64, dataHex string) error {
	return s.publish(simEvent{Type: "sim_data", NodeID: nodeID, PartnerID: partnerID, Reliable: reliable, TimeMs: timeMs, Data: dataHex})
}

// PublishMeshDisconnect republishes a mesh_disconnect event.
func (s *Sink) PublishMeshDisconnect(partnerID uint16) error {
	return s.publish(simEvent{Type: "mesh_disconnect", PartnerID: partnerID})
}

func (s *Sink) publish(e simEvent) error {
	s.mu.RLock()
	connected := s.connected
	client := s.client
	s.mu.RUnlock()

	if !connected || client == nil {
		return nil
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("mqttsink: marshal %s event: %w", e.Type, err)
	}

	token := client.Publish(s.config.Topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqttsink: publish %s: timeout", e.Type)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	s.connected = false
}

// Package telemetry publishes client traffic to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/devprobe-project/devprobe/internal/config"
	"github.com/devprobe-project/devprobe/internal/events"
	"github.com/devprobe-project/devprobe/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicInbound   = "inbound"
	TopicMalformed = "malformed"
	TopicOutbound  = "outbound"
	TopicStatus    = "status"
)

const publishQoS = 1

// mqttPublisher is the subset of mqtt.Client used here.
type mqttPublisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler publishes bus events as JSON messages.
type MQTTHandler struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	pub    mqttPublisher
	logger zerolog.Logger

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a handler for the configured broker. It does not
// connect; call Start.
func NewMQTTHandler(cfg config.MQTTConfig, peer config.PeerAddress) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	hostInfo := util.GetHostInfo()
	h := &MQTTHandler{
		cfg:      cfg,
		logger:   util.ComponentLogger("mqtt"),
		metadata: hostMetadata(hostInfo, peer.String()),
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("devprobe-%s", hostInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// mTLS: load client certificate
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	h.pub = h.client
	return h, nil
}

func hostMetadata(info util.HostInfo, peer string) map[string]interface{} {
	return map[string]interface{}{
		"hostname":  info.Hostname,
		"os":        info.OS,
		"arch":      info.Architecture,
		"cpu_model": info.CPUModel,
		"cpu_cores": info.CPUCores,
		"memory_mb": info.TotalMemoryMB,
		"addresses": info.Addresses,
		"peer":      peer,
	}
}

// Start connects to the broker, subscribes to bus events and announces the
// session on the status topic.
func (h *MQTTHandler) Start(ctx context.Context, bus *events.EventBus) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.Attach(bus)
	h.publishStatus("started", nil)
	return nil
}

// Stop publishes a shutdown status and disconnects.
func (h *MQTTHandler) Stop() {
	h.publishStatus("shutdown", nil)
	h.client.Disconnect(1000)
	h.logger.Info().Msg("MQTT disconnected")
}

// Attach registers event handlers for MQTT publishing.
func (h *MQTTHandler) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventMessageReceived, "mqtt.inbound", h.onReceived)
	bus.Subscribe(events.EventMalformedDatagram, "mqtt.malformed", h.onMalformed)
	bus.Subscribe(events.EventMessageSent, "mqtt.outbound", h.onSent)
	bus.Subscribe(events.EventSendFailed, "mqtt.outbound", h.onSent)
	bus.Subscribe(events.EventListenerStopped, "mqtt.status", h.onStopped)
}

func (h *MQTTHandler) topic(suffix string) string {
	prefix := h.cfg.TopicPrefix
	if prefix == "" {
		prefix = config.DefaultMQTTTopicPrefix
	}
	return prefix + "/" + suffix
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(suffix string, payload interface{}) {
	if !h.pub.IsConnected() {
		return
	}
	topic := h.topic(suffix)

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.pub.Publish(topic, publishQoS, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) publishStatus(status string, err error) {
	payload := map[string]interface{}{
		"event": status,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	h.publish(TopicStatus, payload)
}

// Event handlers

func (h *MQTTHandler) onReceived(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ReceivedPayload)
	if !ok {
		return nil
	}
	payload := map[string]interface{}{
		"from":    p.From,
		"type":    p.Message.Type.String(),
		"raw_hex": hex.EncodeToString(p.Raw),
	}
	if p.Message.DeviceInfo != nil {
		payload["device_info"] = p.Message.DeviceInfo
	}
	h.publish(TopicInbound, payload)
	return nil
}

func (h *MQTTHandler) onMalformed(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.MalformedPayload)
	if !ok {
		return nil
	}
	h.publish(TopicMalformed, map[string]interface{}{
		"from":       p.From,
		"raw_hex":    hex.EncodeToString(p.Raw),
		"error_kind": p.Kind,
		"error":      p.Reason(),
	})
	return nil
}

func (h *MQTTHandler) onSent(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.SentPayload)
	if !ok {
		return nil
	}
	payload := map[string]interface{}{
		"to":      p.To,
		"type":    p.Type.String(),
		"raw_hex": hex.EncodeToString(p.Raw),
		"auto":    p.Auto,
	}
	if p.Err != nil {
		payload["error"] = p.Err.Error()
	}
	h.publish(TopicOutbound, payload)
	return nil
}

func (h *MQTTHandler) onStopped(ctx context.Context, event events.Event) error {
	p, _ := event.Payload.(events.StoppedPayload)
	h.publishStatus("listener_stopped", p.Err)
	return nil
}

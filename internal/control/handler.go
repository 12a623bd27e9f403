// Package control implements the MQTT control plane: JSON commands on the
// control topic are normalized to the same Command values the local signal
// and stdin surfaces produce.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ktyurin/survcafe/internal/command"
	"github.com/ktyurin/survcafe/internal/config"
)

// Message represents a control plane command
type Message struct {
	Command string `json:"command"`
}

// Response represents a command acknowledgement
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Callbacks contains the hooks the handler drives
type Callbacks struct {
	// OnCommand submits a normalized streaming command to the control loop
	OnCommand func(command.Command)
	// OnGetStatus returns the current server status snapshot
	OnGetStatus func() map[string]any
	// OnShutdown initiates graceful process shutdown
	OnShutdown func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg       *config.Config
	client    mqtt.Client
	messages  chan Message
	callbacks Callbacks
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client mqtt.Client, callbacks Callbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		messages:  make(chan Message, 10),
		callbacks: callbacks,
	}
}

// Start subscribes to the control topic and starts processing commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processMessages(ctx)

	return nil
}

// Stop unsubscribes and stops the handler
func (h *Handler) Stop() error {
	topic := h.cfg.MQTT.Topics.Control

	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(topic)
		token.Wait()
	}

	close(h.messages)

	slog.Info("control plane handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var m Message
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", m.Command)

	select {
	case h.messages <- m:
	default:
		slog.Warn("command queue full, dropping command", "command", m.Command)
	}
}

// processMessages processes commands from the queue
func (h *Handler) processMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-h.messages:
			if !ok {
				return
			}
			h.handleMessage(m)
		}
	}
}

// handleMessage executes a command
func (h *Handler) handleMessage(m Message) {
	var resp Response
	resp.CommandAck = m.Command

	switch m.Command {
	case command.TokenOpenStream, command.TokenCloseStream, command.TokenCaptureImage:
		if h.callbacks.OnCommand == nil {
			resp.Status = "error"
			resp.Error = "streaming commands not implemented"
			break
		}
		h.callbacks.OnCommand(command.Parse(m.Command))
		resp.Status = "accepted"
		resp.Data = map[string]any{
			"queued": true,
		}

	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			resp.Status = "error"
			resp.Error = "shutdown not implemented"
			break
		}
		slog.Warn("shutdown command received via control plane")
		resp.Status = "success"
		resp.Data = map[string]any{
			"shutdown_initiated": true,
		}
		// Send response BEFORE triggering shutdown
		h.sendResponse(resp)

		go func() {
			time.Sleep(500 * time.Millisecond) // let the ack reach the broker
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("shutdown callback failed", "error", err)
			}
		}()
		return // response already sent

	default:
		// Unrecognized commands are ignored server-side; the ack still
		// tells the operator what happened.
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", m.Command)
	}

	h.sendResponse(resp)
}

// sendResponse publishes an acknowledgement to the events topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Events
	qos := h.cfg.MQTT.QoS["events"]

	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

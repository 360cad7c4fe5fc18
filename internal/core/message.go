package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultSender is used when a message does not name its sender.
const DefaultSender = "system"

// Message is a typed payload routed to subscribed agents.
type Message struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"message_type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Sender    string                 `json:"sender"`
	SessionID string                 `json:"session_id,omitempty"`
}

// NewMessage builds a message with a fresh id and the current time.
func NewMessage(msgType string, data map[string]interface{}) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Sender:    DefaultSender,
	}
}

// UnmarshalJSON accepts the timestamp either as RFC3339 text or as a JSON
// number of Unix seconds, the float form Python clients send.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	aux := struct {
		*plain
		Timestamp json.RawMessage `json:"timestamp"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ts, err := parseTimestamp(aux.Timestamp)
	if err != nil {
		return err
	}
	m.Timestamp = ts
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("message: timestamp: %w", err)
		}
		if s = strings.TrimSpace(s); s == "" {
			return time.Time{}, nil
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("message: timestamp: %w", err)
		}
		return ts.UTC(), nil
	}
	secs, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, fmt.Errorf("message: invalid timestamp %s", raw)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC(), nil
}

// Normalize fills defaults left empty by a decoder.
func (m *Message) Normalize() {
	m.Type = strings.TrimSpace(m.Type)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if strings.TrimSpace(m.Sender) == "" {
		m.Sender = DefaultSender
	}
}

// Validate checks that the message type can be routed.
func (m Message) Validate() error {
	if m.Type == "" {
		return errors.New("message: message_type is required")
	}
	if strings.ContainsAny(m.Type, " \t\r\n*?[]/") {
		return fmt.Errorf("message: invalid message_type %q", m.Type)
	}
	return nil
}

// String returns the string at key in Data, or "" if absent.
func (m Message) String(key string) string {
	if m.Data == nil {
		return ""
	}
	s, _ := m.Data[key].(string)
	return s
}

// Bool returns the bool at key in Data, or false if absent.
func (m Message) Bool(key string) bool {
	if m.Data == nil {
		return false
	}
	b, _ := m.Data[key].(bool)
	return b
}

// StateUpdate is emitted when a blackboard entry changes.
type StateUpdate struct {
	Key     string      `json:"key"`
	Value   interface{} `json:"value"`
	Version int64       `json:"version"`
}

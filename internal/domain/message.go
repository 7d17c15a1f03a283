// Package domain contains core domain types for the bai assistant client.
package domain

import (
	"encoding/json"
	"strings"
)

// Role identifies who authored a message.
type Role string

const (
	// RoleUser marks a message typed or spoken by the user.
	RoleUser Role = "user"
	// RoleModel marks a reply produced by the backend.
	RoleModel Role = "model"
)

// Valid reports whether r is one of the two wire roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// Message is a single entry of the chat history.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// UserMessage returns a message authored by the user.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// ModelMessage returns a message authored by the backend.
func ModelMessage(text string) Message {
	return Message{Role: RoleModel, Text: text}
}

// Prefixes used by older clients that persisted history as plain strings.
const (
	legacyUserPrefix  = "User: "
	legacyModelPrefix = "AI: "
)

// EncodeMessage returns the persisted form of m: a JSON object with role and text.
func EncodeMessage(m Message) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeMessage parses one persisted history entry.
//
// Canonical entries are JSON objects. Entries written by older clients
// carry a "User: " or "AI: " prefix and are migrated on read; any other
// non-empty string is kept as a model line, which is how that client rendered it.
// The second return value is false for entries that cannot be used at all.
func DecodeMessage(raw string) (Message, bool) {
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err == nil && m.Role.Valid() {
			return m, true
		}
	}

	switch {
	case strings.HasPrefix(raw, legacyUserPrefix):
		return UserMessage(strings.TrimPrefix(raw, legacyUserPrefix)), true
	case strings.HasPrefix(raw, legacyModelPrefix):
		return ModelMessage(strings.TrimPrefix(raw, legacyModelPrefix)), true
	case strings.TrimSpace(raw) == "":
		return Message{}, false
	default:
		return ModelMessage(raw), true
	}
}

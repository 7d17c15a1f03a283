// Package backend implements the client side of the chat backend protocol:
// request assembly, response decoding and the HTTP transport.
package backend

import (
	"encoding/json"
	"strings"
)

// ProtocolVersion selects the request and response shapes spoken with the backend.
type ProtocolVersion int

const (
	// ProtocolLegacy is the first {message, context} -> {type, content} exchange.
	ProtocolLegacy ProtocolVersion = 1
	// ProtocolToolResults sends the full history and receives typed tool results.
	ProtocolToolResults ProtocolVersion = 2
)

// Valid reports whether v is a known protocol version.
func (v ProtocolVersion) Valid() bool {
	return v == ProtocolLegacy || v == ProtocolToolResults
}

// Response types.
const (
	TypeText            = "text"
	TypeMultiToolResult = "multi_tool_result"
	TypeError           = "error"

	// typeLegacyAlarm is the v1 response that carried a single alarm inline.
	typeLegacyAlarm = "alarm"
)

// ErrorTypeOverloaded marks an error response the client should retry later.
const ErrorTypeOverloaded = "model_overloaded"

// Tool result tags.
const (
	ToolAlarm             = "alarm"
	ToolAlarmExists       = "alarm_exists"
	ToolContextUpdate     = "context_update"
	ToolTaskCreateSuccess = "task_create_success"
	ToolTaskCreateFailed  = "task_create_failed"
	ToolTaskCreateError   = "task_create_error"
)

// HistoryEntry is one message of the chat history on the wire. Role is
// always "user" or "model".
type HistoryEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ChatRequest is the canonical request body.
type ChatRequest struct {
	PermanentContext string         `json:"permanent_context"`
	ChatHistory      []HistoryEntry `json:"chat_history"`
}

// LegacyChatRequest is the v1 request body.
type LegacyChatRequest struct {
	Message string `json:"message"`
	Context string `json:"context"`
}

// Request is a built request in one of the two protocol shapes.
type Request struct {
	Version ProtocolVersion
	Chat    *ChatRequest
	Legacy  *LegacyChatRequest
}

// MarshalJSON encodes whichever body the version selects.
func (r Request) MarshalJSON() ([]byte, error) {
	if r.Version == ProtocolLegacy {
		return json.Marshal(r.Legacy)
	}
	return json.Marshal(r.Chat)
}

// ToolResult is one structured side-effect instruction. Only the fields
// relevant to Type are set.
type ToolResult struct {
	Type      string `json:"type"`
	Time      string `json:"time,omitempty"`
	Label     string `json:"label,omitempty"`
	Message   string `json:"message,omitempty"`
	Content   string `json:"content,omitempty"`
	TaskTitle string `json:"taskTitle,omitempty"`

	// DecodeErr is set when the entry was present but could not be decoded.
	DecodeErr error `json:"-"`
}

// UnmarshalJSON also accepts task_title.
func (t *ToolResult) UnmarshalJSON(data []byte) error {
	type plain ToolResult
	var aux struct {
		plain
		TaskTitleSnake string `json:"task_title"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*t = ToolResult(aux.plain)
	if t.TaskTitle == "" {
		t.TaskTitle = aux.TaskTitleSnake
	}
	return nil
}

// ChatResponse is a decoded backend reply, normalised to the canonical shape.
type ChatResponse struct {
	Type      string       `json:"type"`
	Content   string       `json:"content,omitempty"`
	Message   string       `json:"message,omitempty"`
	Results   []ToolResult `json:"results,omitempty"`
	ErrorType string       `json:"error_type,omitempty"`

	// Legacy is true when the reply was decoded from the v1 shape.
	Legacy bool `json:"-"`
}

// IsError reports whether the response must be treated as an error.
func (r *ChatResponse) IsError() bool {
	return r.Type == TypeError
}

// IsOverloaded reports whether the backend asked for a retry.
func (r *ChatResponse) IsOverloaded() bool {
	return r.IsError() && r.ErrorType == ErrorTypeOverloaded
}

// HasResults reports whether the response carries a results list, even an empty one.
func (r *ChatResponse) HasResults() bool {
	return r.Results != nil
}

// ReplyText returns the conversational text of the response: message if it
// is not blank, content otherwise.
func (r *ChatResponse) ReplyText() string {
	if strings.TrimSpace(r.Message) != "" {
		return r.Message
	}
	return r.Content
}

package backend

import (
	"encoding/json"
	"fmt"
)

// wireResponse covers both the canonical and the legacy response shapes.
type wireResponse struct {
	Type           string            `json:"type"`
	Content        *string           `json:"content"`
	Message        *string           `json:"message"`
	Results        []json.RawMessage `json:"results"`
	ErrorType      string            `json:"error_type"`
	ErrorTypeCamel string            `json:"errorType"`

	// v1 inline alarm fields.
	Time  string `json:"time"`
	Label string `json:"label"`
}

// DecodeResponse parses a backend reply. The canonical shape is attempted
// first; a body without any canonical field is read as the legacy shape, in
// which an "alarm" type carries its time and label inline.
//
// Individual results that fail to decode do not fail the whole response;
// they are kept with DecodeErr set so that the remaining entries still run.
func DecodeResponse(data []byte) (*ChatResponse, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("decode response: missing type")
	}

	resp := &ChatResponse{
		Type:      w.Type,
		Content:   deref(w.Content),
		Message:   deref(w.Message),
		ErrorType: w.ErrorType,
	}
	if resp.ErrorType == "" {
		resp.ErrorType = w.ErrorTypeCamel
	}

	if w.Results != nil {
		resp.Results = make([]ToolResult, 0, len(w.Results))
		for i, raw := range w.Results {
			var tr ToolResult
			if err := json.Unmarshal(raw, &tr); err != nil {
				tr = ToolResult{Type: peekType(raw), DecodeErr: fmt.Errorf("result %d: %w", i, err)}
			}
			resp.Results = append(resp.Results, tr)
		}
	}

	if !w.isCanonical() {
		resp.Legacy = true
		if w.Type == typeLegacyAlarm {
			resp.Type = TypeMultiToolResult
			resp.Results = []ToolResult{{Type: ToolAlarm, Time: w.Time, Label: w.Label}}
		}
	}

	return resp, nil
}

func (w *wireResponse) isCanonical() bool {
	return w.Results != nil ||
		w.Message != nil ||
		w.ErrorType != "" ||
		w.ErrorTypeCamel != "" ||
		w.Type == TypeMultiToolResult ||
		w.Type == TypeError
}

// peekType recovers the tag of a result whose other fields are malformed.
func peekType(raw json.RawMessage) string {
	var tagged struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return ""
	}
	return tagged.Type
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

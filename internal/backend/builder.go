package backend

import (
	"github.com/ashureev/bai/internal/domain"
)

// Builder assembles requests for one protocol version.
type Builder struct {
	Version ProtocolVersion
}

// Build returns the request for the given history and permanent context.
// The inputs are read only.
func (b Builder) Build(history []domain.Message, facts domain.PermanentContext) Request {
	if b.Version == ProtocolLegacy {
		legacy := BuildLegacyRequest(history, facts)
		return Request{Version: ProtocolLegacy, Legacy: &legacy}
	}
	chat := BuildRequest(history, facts)
	return Request{Version: ProtocolToolResults, Chat: &chat}
}

// BuildRequest maps the conversation state onto the canonical request.
func BuildRequest(history []domain.Message, facts domain.PermanentContext) ChatRequest {
	entries := make([]HistoryEntry, 0, len(history))
	for _, msg := range history {
		entries = append(entries, HistoryEntry{Role: wireRole(msg.Role), Text: msg.Text})
	}
	return ChatRequest{
		PermanentContext: facts.Instruction(),
		ChatHistory:      entries,
	}
}

// BuildLegacyRequest sends only the latest user message with the facts.
func BuildLegacyRequest(history []domain.Message, facts domain.PermanentContext) LegacyChatRequest {
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleUser {
			last = history[i].Text
			break
		}
	}
	return LegacyChatRequest{Message: last, Context: facts.Instruction()}
}

func wireRole(r domain.Role) string {
	if r == domain.RoleUser {
		return string(domain.RoleUser)
	}
	return string(domain.RoleModel)
}

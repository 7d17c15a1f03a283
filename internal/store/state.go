package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/bai/internal/domain"
)

// State maps the typed conversation state onto the two persisted lists.
type State struct {
	store  Store
	logger *slog.Logger
}

// NewState wraps s.
func NewState(s Store, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{store: s, logger: logger}
}

// LoadHistory reads the chat history. Entries in the legacy prefixed form are
// migrated; unusable entries are dropped.
func (s *State) LoadHistory(ctx context.Context) ([]domain.Message, error) {
	raw, err := s.store.Load(ctx, KeyHistory)
	history := make([]domain.Message, 0, len(raw))
	for _, entry := range raw {
		msg, ok := domain.DecodeMessage(entry)
		if !ok {
			s.logger.Debug("dropping unusable history entry", "entry", entry)
			continue
		}
		history = append(history, msg)
	}
	return history, err
}

// SaveHistory writes the chat history in canonical form.
func (s *State) SaveHistory(ctx context.Context, history []domain.Message) error {
	values := make([]string, 0, len(history))
	for _, msg := range history {
		raw, err := domain.EncodeMessage(msg)
		if err != nil {
			return fmt.Errorf("encode history entry: %w", err)
		}
		values = append(values, raw)
	}
	return s.store.Save(ctx, KeyHistory, values)
}

// LoadFacts reads the permanent context, normalised.
func (s *State) LoadFacts(ctx context.Context) (domain.PermanentContext, error) {
	raw, err := s.store.Load(ctx, KeyPermanentContext)
	return domain.NormalizeFacts(raw), err
}

// SaveFacts writes the permanent context. Blank entries are never stored.
func (s *State) SaveFacts(ctx context.Context, facts domain.PermanentContext) error {
	return s.store.Save(ctx, KeyPermanentContext, domain.NormalizeFacts(facts))
}

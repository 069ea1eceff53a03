package storage

import (
	"context"

	"github.com/orrbarkat/whatsapp-mcp/internal/model"
)

// AssembleContext expands each match into its per-chat surrounding window and
// concatenates the windows in original match order. Overlapping windows are
// not deduplicated: conversational contiguity takes precedence over
// minimality. Behavior is identical for every backend since all I/O goes
// through the repository.
func AssembleContext(ctx context.Context, repo MessageRepository, matches []model.Message, before, after int) ([]model.Message, error) {
	if len(matches) == 0 {
		return matches, nil
	}

	out := make([]model.Message, 0, len(matches)*(before+after+1))
	for _, m := range matches {
		window, err := repo.GetMessageContext(ctx, m.ID, before, after)
		if err != nil {
			return nil, err
		}
		out = append(out, window.Before...)
		out = append(out, window.Message)
		out = append(out, window.After...)
	}
	return out, nil
}

// Package facts persists what the hosted agent asks the page to remember.
package facts

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/chatkit-shell/internal/domain"
	"github.com/ashureev/chatkit-shell/internal/store"
	"github.com/microcosm-cc/bluemonday"
)

const maxFactTextRunes = 2000

// ErrNoUser is returned when an action arrives without an owner.
var ErrNoUser = errors.New("facts: missing user id")

// Recorder stores widget actions.
type Recorder struct {
	repo   store.Repository
	policy *bluemonday.Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder. A nil logger uses slog.Default.
func NewRecorder(repo store.Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:   repo,
		policy: bluemonday.StrictPolicy(),
		logger: logger,
		now:    time.Now,
	}
}

// HandleWidgetAction persists a save action for userID. Other action types
// are ignored.
func (r *Recorder) HandleWidgetAction(ctx context.Context, userID string, action domain.WidgetAction) error {
	if action.Type != domain.WidgetActionSave {
		r.logger.Debug("Ignoring widget action", "type", action.Type, "user_id", userID)
		return nil
	}
	if userID == "" {
		return ErrNoUser
	}

	fact := &domain.Fact{
		UserID:    userID,
		FactID:    action.FactID,
		Text:      r.sanitize(action.FactText),
		CreatedAt: r.now(),
	}
	inserted, err := r.repo.SaveFact(ctx, fact)
	if err != nil {
		return fmt.Errorf("record fact: %w", err)
	}

	r.logger.Info("Fact recorded",
		"user_id", userID,
		"fact_id", fact.FactID,
		"inserted", inserted)
	return nil
}

// sanitize strips markup and returns plain text.
func (r *Recorder) sanitize(text string) string {
	clean := html.UnescapeString(r.policy.Sanitize(text))
	clean = strings.TrimSpace(clean)
	if runes := []rune(clean); len(runes) > maxFactTextRunes {
		clean = string(runes[:maxFactTextRunes])
	}
	return clean
}

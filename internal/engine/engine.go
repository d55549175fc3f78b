package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DaySnapshot is the slice of a user's day handed to the engine as
// generation context.
type DaySnapshot struct {
	UserID    string   `json:"user_id"`
	Date      string   `json:"date"`
	TasksDue  []string `json:"tasks_due,omitempty"`
	Habits    []string `json:"habits,omitempty"`
	Completed []string `json:"completed,omitempty"`
	Overdue   []string `json:"overdue,omitempty"`
	LocalHour int      `json:"local_hour"`
}

// Nudge is one proactive suggestion produced by the engine.
type Nudge struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// MorningBriefing generates the body text for a morning briefing.
func (c *Client) MorningBriefing(ctx context.Context, snap DaySnapshot) (string, error) {
	systemPrompt := `You are the voice of a personal planning assistant.
Write a short morning briefing summarizing the user's day ahead.
Return ONLY the briefing text, under 100 words, warm and direct.`

	body, err := c.generate(ctx, systemPrompt, snapshotPrompt(snap))
	if err != nil {
		return "", fmt.Errorf("morning briefing generation failed: %w", err)
	}
	return strings.TrimSpace(body), nil
}

// EveningReview generates the body text for an evening review.
func (c *Client) EveningReview(ctx context.Context, snap DaySnapshot) (string, error) {
	systemPrompt := `You are the voice of a personal planning assistant.
Write a short evening review of the user's day: what got done, what is
still open. Return ONLY the review text, under 100 words, encouraging
but honest.`

	body, err := c.generate(ctx, systemPrompt, snapshotPrompt(snap))
	if err != nil {
		return "", fmt.Errorf("evening review generation failed: %w", err)
	}
	return strings.TrimSpace(body), nil
}

// CheckForNudges asks the engine for proactive suggestions for one user.
// An empty slice means the user's day looks fine and no nudge is needed.
func (c *Client) CheckForNudges(ctx context.Context, snap DaySnapshot) ([]Nudge, error) {
	systemPrompt := `You are the proactive layer of a personal planning assistant.
Given a snapshot of the user's day, decide whether anything deserves a
gentle nudge (an overdue task, a habit slipping, a stacked afternoon).
Respond with a JSON array of objects with "title" and "body" fields.
Respond with [] when nothing is worth interrupting the user for.
Never produce more than 2 nudges.`

	raw, err := c.generate(ctx, systemPrompt, snapshotPrompt(snap))
	if err != nil {
		return nil, fmt.Errorf("nudge check failed: %w", err)
	}

	raw = strings.TrimSpace(raw)
	// Models occasionally fence the JSON despite instructions.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var nudges []Nudge
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &nudges); err != nil {
		c.logger.Warn("engine returned unparseable nudge payload",
			zap.String("user_id", snap.UserID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("invalid nudge payload: %w", err)
	}

	if len(nudges) > 2 {
		nudges = nudges[:2]
	}
	return nudges, nil
}

func snapshotPrompt(snap DaySnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s (local hour %d)\n", snap.Date, snap.LocalHour)
	writeList(&b, "Tasks due today", snap.TasksDue)
	writeList(&b, "Habits", snap.Habits)
	writeList(&b, "Completed", snap.Completed)
	writeList(&b, "Overdue", snap.Overdue)
	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}

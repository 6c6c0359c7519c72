package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoPreferences is returned when a user has no saved preferences.
var ErrNoPreferences = errors.New("store: no saved preferences")

// Preference is one saved user preference, e.g. {"genre", "fantasy"}.
type Preference struct {
	// Type is the preference category (genre, author, age_group, ...).
	Type string `json:"preference_type"`
	// Value is the preferred value.
	Value string `json:"preference_value"`
}

// SavePreference stores a preference. Saving the same triple twice is a
// no-op.
func (s *SQLiteStore) SavePreference(ctx context.Context, userID string, p Preference) error {
	userID, p.Type, p.Value = strings.TrimSpace(userID), strings.TrimSpace(p.Type), strings.TrimSpace(p.Value)
	if userID == "" || p.Type == "" || p.Value == "" {
		return fmt.Errorf("store: save preference: user_id, type and value are required")
	}
	const q = `
INSERT OR IGNORE INTO user_preferences (user_id, preference_type, preference_value, created_at)
VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, userID, p.Type, p.Value, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: save preference: %w", err)
	}
	return nil
}

// Preferences returns the user's preferences in the order they were saved.
func (s *SQLiteStore) Preferences(ctx context.Context, userID string) ([]Preference, error) {
	const q = `
SELECT preference_type, preference_value
FROM   user_preferences
WHERE  user_id = ?
ORDER  BY id ASC`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("store: preferences: %w", err)
	}
	defer rows.Close()

	var prefs []Preference
	for rows.Next() {
		var p Preference
		if err := rows.Scan(&p.Type, &p.Value); err != nil {
			return nil, fmt.Errorf("store: preferences scan: %w", err)
		}
		prefs = append(prefs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: preferences rows: %w", err)
	}
	return prefs, nil
}

// RecommendationQuery turns saved preferences into a retrieval query of the
// form "Find books based on: genre fantasy AND author Tolkien".
func RecommendationQuery(prefs []Preference) (string, error) {
	if len(prefs) == 0 {
		return "", ErrNoPreferences
	}
	parts := make([]string, len(prefs))
	for i, p := range prefs {
		parts[i] = p.Type + " " + p.Value
	}
	return "Find books based on: " + strings.Join(parts, " AND "), nil
}

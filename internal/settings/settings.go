// Package settings persists visitor preferences across visits.
package settings

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates nothing is stored for the visitor.
	ErrNotFound = errors.New("settings not found")
	// ErrUnsupportedLanguage indicates a language outside the supported set.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrInvalidVisitor indicates an empty visitor ID.
	ErrInvalidVisitor = errors.New("visitor id is required")
)

// Settings are the persisted preferences of one visitor.
type Settings struct {
	Language  string    `json:"language"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store loads and saves visitor settings.
type Store interface {
	Load(ctx context.Context, visitorID string) (Settings, error)
	Save(ctx context.Context, visitorID string, s Settings) error
	Close() error
}

// Prepare validates a visitor ID and normalizes the language before a save.
func Prepare(visitorID string, s Settings) (string, Settings, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return "", Settings{}, ErrInvalidVisitor
	}
	lang, err := Normalize(s.Language)
	if err != nil {
		return "", Settings{}, err
	}
	s.Language = lang
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	return visitorID, s, nil
}

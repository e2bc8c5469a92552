package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Recipe is a saved recipe record, including the cooking chat transcript
// and the post-cook learning fields the session extractor consumes.
type Recipe struct {
	ID              string
	Title           string
	PinnedText      string
	ChatHistoryJSON string // JSON array of {role, content}
	Source          string // "generated", "url", "pdf", "manual"
	Rating          int    // overall stars 0–5, 0 = unrated
	TasteRating     int
	EffortRating    int
	Notes           string
	TagsJSON        string // JSON array stored as text
	CookCount       int
	MetadataJSON    string // LLM-extracted metadata, empty until backfilled
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Job is a queued background task (currently only metadata extraction).
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

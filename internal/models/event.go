package models

import (
	"regexp"
	"time"
)

var eventCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidEventCode reports whether code can be used as an event scope key.
func ValidEventCode(code string) bool {
	return eventCodePattern.MatchString(code)
}

type Event struct {
	Code      string    `json:"event_code" db:"code"`
	Revision  int64     `json:"revision" db:"revision"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventStats struct {
	EventCode   string              `json:"event_code"`
	TotalPhotos int                 `json:"total_photos"`
	TotalFaces  int                 `json:"total_faces"`
	ByStatus    map[PhotoStatus]int `json:"by_status"`
	PhotoIDs    []string            `json:"photo_ids"`
}

// Match is one entry of a match result.
type Match struct {
	PhotoID  string  `json:"photo_id"`
	Distance float64 `json:"distance"`
}

// MatchResult is ordered by ascending distance, ties by ascending photo ID,
// with at most one entry per photo.
type MatchResult []Match

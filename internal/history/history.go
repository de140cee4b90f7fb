// Package history keeps the ordered log of detection events for one session
// and derives the statistics and export documents served to the console.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ahnjh51-tft/deepguard-v1/internal/models"
)

// ErrInvalidRange is returned for an unrecognized time-range selector value.
var ErrInvalidRange = errors.New("invalid history range")

// Range is the history view's time-range selector. It is a display preference:
// values are validated, but the selector does not restrict the returned
// entries.
type Range string

const (
	RangeDaily   Range = "daily"
	RangeWeekly  Range = "weekly"
	RangeMonthly Range = "monthly"
)

// Valid reports whether r is a recognized selector value.
func (r Range) Valid() bool {
	return r == RangeDaily || r == RangeWeekly || r == RangeMonthly
}

// Stats are the aggregate counts derived from the log.
type Stats struct {
	Total int `json:"total"`
	Real  int `json:"real"`
	Fake  int `json:"fake"`
}

// Store is an append-only, insertion-ordered log of history entries. Entries
// arrive fully populated; the store assigns nothing and never mutates or
// removes them. The most recent entry is last. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries []models.HistoryEntry
}

// NewStore creates an empty history store.
func NewStore() *Store {
	return &Store{}
}

// Add appends an entry to the log.
func (s *Store) Add(entry models.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

// Entries returns a copy of the log in insertion order.
func (s *Store) Entries() []models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.HistoryEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Stats computes the aggregate counts. An entry counts as real exactly when
// its result label contains the real marker; everything else counts as fake.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{Total: len(s.entries)}
	for _, e := range s.entries {
		if models.IsRealLabel(e.ResultLabel) {
			stats.Real++
		} else {
			stats.Fake++
		}
	}
	return stats
}

// FilterByRange validates the selector and returns the entries. The range does
// not narrow the result; it only has to be one of the recognized values.
func (s *Store) FilterByRange(r Range) ([]models.HistoryEntry, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}
	return s.Entries(), nil
}

// ExportCSV renders the log as CSV. The header row is unquoted; every data
// field is double-quoted with internal quotes doubled, and confidence is
// formatted with exactly two decimal places. Rows follow insertion order.
func (s *Store) ExportCSV() string {
	entries := s.Entries()

	var b strings.Builder
	b.WriteString("timestamp,user_id,model,result,confidence")
	for _, e := range entries {
		b.WriteString("\n")
		b.WriteString(strings.Join([]string{
			csvQuote(e.Timestamp),
			csvQuote(e.UserID),
			csvQuote(e.ModelName),
			csvQuote(e.ResultLabel),
			csvQuote(strconv.FormatFloat(e.Confidence, 'f', 2, 64)),
		}, ","))
	}
	return b.String()
}

func csvQuote(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

type exportRecord struct {
	ID         string  `json:"id"`
	Timestamp  string  `json:"timestamp"`
	UserID     string  `json:"user_id"`
	Model      string  `json:"model"`
	Result     string  `json:"result"`
	Confidence float64 `json:"confidence"`
}

// ExportJSON renders the log as a pretty-printed JSON array in insertion
// order, indented with two spaces.
func (s *Store) ExportJSON() (string, error) {
	entries := s.Entries()

	records := make([]exportRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, exportRecord{
			ID:         e.ID,
			Timestamp:  e.Timestamp,
			UserID:     e.UserID,
			Model:      e.ModelName,
			Result:     e.ResultLabel,
			Confidence: e.Confidence,
		})
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode history: %w", err)
	}
	return string(data), nil
}

package model

import (
	"slices"
	"strings"
	"time"
)

// ExamRecord is one row of the exam schedule exactly as loaded from the
// source. Fields are trimmed but otherwise untouched; date and time are kept
// as text and only resolved by projection.
type ExamRecord struct {
	ID int

	// RawDate looks like "Do., 26.06.": weekday prefix, comma, day.month.
	RawDate string
	// RawTime is "HH:MM".
	RawTime string

	// Groups and Rooms are comma-separated token lists.
	Groups   string
	Name     string
	Examiner string
	Rooms    string
}

// GroupList returns the trimmed, non-empty group tokens.
func (r ExamRecord) GroupList() []string {
	return splitTokens(r.Groups)
}

// RoomList returns the trimmed, non-empty room tokens.
func (r ExamRecord) RoomList() []string {
	return splitTokens(r.Rooms)
}

func splitTokens(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ProjectedEvent is an ExamRecord with resolved start/end timestamps.
// It is recomputed on demand and never stored.
type ProjectedEvent struct {
	ID       int       `json:"id"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Groups   string    `json:"groups"`
	Examiner string    `json:"examiner"`
	Rooms    string    `json:"rooms"`
}

// UserSelection is the set of exam ids a token has marked for export.
type UserSelection struct {
	Token Token
	IDs   map[int]struct{}
}

// NewSelection returns an empty selection for token.
func NewSelection(token Token) *UserSelection {
	return &UserSelection{Token: token, IDs: make(map[int]struct{})}
}

// Add reports whether id was newly added.
func (s *UserSelection) Add(id int) bool {
	if s.IDs == nil {
		s.IDs = make(map[int]struct{})
	}
	if _, ok := s.IDs[id]; ok {
		return false
	}
	s.IDs[id] = struct{}{}
	return true
}

// Remove reports whether id was present.
func (s *UserSelection) Remove(id int) bool {
	if _, ok := s.IDs[id]; !ok {
		return false
	}
	delete(s.IDs, id)
	return true
}

func (s *UserSelection) Has(id int) bool {
	_, ok := s.IDs[id]
	return ok
}

func (s *UserSelection) Count() int {
	return len(s.IDs)
}

// SortedIDs returns the ids in ascending order.
func (s *UserSelection) SortedIDs() []int {
	ids := make([]int, 0, len(s.IDs))
	for id := range s.IDs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Clone returns a deep copy so callers cannot mutate store state.
func (s *UserSelection) Clone() *UserSelection {
	c := NewSelection(s.Token)
	for id := range s.IDs {
		c.IDs[id] = struct{}{}
	}
	return c
}

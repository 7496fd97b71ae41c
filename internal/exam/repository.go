package exam

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	appLog "examcal/internal/log"
	"examcal/internal/model"
)

// Criteria selects exams. Empty fields impose no constraint; non-empty
// fields are ANDed.
//
// Group and Room must equal one comma-separated token of the record,
// while Examiner and Name only need to be contained in the field. The two
// rules differ on purpose and callers depend on both.
type Criteria struct {
	Group    string
	Examiner string
	Room     string
	Name     string
}

// Options configures projection for a Repository.
type Options struct {
	// Location for exam wall-clock times. Nil means time.Local.
	Location *time.Location
	// Now supplies the processing time whose year completes RawDate.
	// Nil means time.Now.
	Now func() time.Time
}

// Repository is a read-only view over one loaded schedule. It is built
// once and never mutated, so concurrent readers need no locking.
type Repository struct {
	records []model.ExamRecord
	byID    map[int]int
	loc     *time.Location
	now     func() time.Time
}

// NewRepository indexes records by id. When ids repeat, the first record
// wins.
func NewRepository(records []model.ExamRecord, opts Options) *Repository {
	r := &Repository{
		records: slices.Clone(records),
		byID:    make(map[int]int, len(records)),
		loc:     opts.Location,
		now:     opts.Now,
	}
	if r.loc == nil {
		r.loc = time.Local
	}
	if r.now == nil {
		r.now = time.Now
	}
	for i, rec := range r.records {
		if _, dup := r.byID[rec.ID]; !dup {
			r.byID[rec.ID] = i
		}
	}
	return r
}

// Len returns the number of loaded records.
func (r *Repository) Len() int { return len(r.records) }

// Location returns the zone used for projection.
func (r *Repository) Location() *time.Location { return r.loc }

// ReferenceYear is the year appended to every RawDate.
func (r *Repository) ReferenceYear() int {
	return r.now().In(r.loc).Year()
}

// All returns every record in source order.
func (r *Repository) All() []model.ExamRecord {
	return slices.Clone(r.records)
}

// Filter returns the records matching c, in source order.
func (r *Repository) Filter(c Criteria) []model.ExamRecord {
	out := make([]model.ExamRecord, 0)
	for _, rec := range r.records {
		if matches(rec, c) {
			out = append(out, rec)
		}
	}
	return out
}

func matches(rec model.ExamRecord, c Criteria) bool {
	if c.Group != "" && !slices.Contains(rec.GroupList(), c.Group) {
		return false
	}
	if c.Room != "" && !slices.Contains(rec.RoomList(), c.Room) {
		return false
	}
	if c.Examiner != "" && !strings.Contains(rec.Examiner, c.Examiner) {
		return false
	}
	if c.Name != "" && !strings.Contains(rec.Name, c.Name) {
		return false
	}
	return true
}

// ByID looks up a record in O(1).
func (r *Repository) ByID(id int) (model.ExamRecord, bool) {
	i, ok := r.byID[id]
	if !ok {
		return model.ExamRecord{}, false
	}
	return r.records[i], true
}

// EventByID projects the record with the given id.
func (r *Repository) EventByID(id int) (model.ProjectedEvent, error) {
	rec, ok := r.ByID(id)
	if !ok {
		return model.ProjectedEvent{}, fmt.Errorf("exam %d: %w", id, model.ErrNotFound)
	}
	return Project(rec, r.ReferenceYear(), r.loc)
}

// Resolve maps ids to records, dropping ids that are not loaded. The
// result is ordered by id.
func (r *Repository) Resolve(ids []int) []model.ExamRecord {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	out := make([]model.ExamRecord, 0, len(sorted))
	for _, id := range sorted {
		if rec, ok := r.ByID(id); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Events projects recs. Records whose date cannot be resolved are logged
// and left out; their errors are returned alongside.
func (r *Repository) Events(recs []model.ExamRecord) ([]model.ProjectedEvent, []*model.ParseError) {
	year := r.ReferenceYear()
	events := make([]model.ProjectedEvent, 0, len(recs))
	var errs []*model.ParseError
	for _, rec := range recs {
		ev, err := Project(rec, year, r.loc)
		if err != nil {
			var pe *model.ParseError
			if errors.As(err, &pe) {
				errs = append(errs, pe)
			}
			appLog.Warn("exam date not projectable", "id", rec.ID, "cause", err)
			continue
		}
		events = append(events, ev)
	}
	return events, errs
}

// SortedEventDates returns the distinct exam days (midnight in the
// repository location) in ascending order.
func (r *Repository) SortedEventDates() []time.Time {
	events, _ := r.Events(r.records)

	days := make([]time.Time, 0, len(events))
	for _, ev := range events {
		y, m, d := ev.Start.Date()
		days = append(days, time.Date(y, m, d, 0, 0, 0, 0, r.loc))
	}
	slices.SortFunc(days, func(a, b time.Time) int { return a.Compare(b) })
	return slices.CompactFunc(days, func(a, b time.Time) bool { return a.Equal(b) })
}

// DisplayRange returns the first exam day and the day after the last one.
// ok is false when no record could be projected.
func (r *Repository) DisplayRange() (first, end time.Time, ok bool) {
	days := r.SortedEventDates()
	if len(days) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return days[0], days[len(days)-1].AddDate(0, 0, 1), true
}

func (r *Repository) DistinctGroups() []string {
	return r.distinct(model.ExamRecord.GroupList)
}

func (r *Repository) DistinctRooms() []string {
	return r.distinct(model.ExamRecord.RoomList)
}

func (r *Repository) DistinctNames() []string {
	return r.distinct(func(rec model.ExamRecord) []string { return []string{rec.Name} })
}

func (r *Repository) DistinctExaminers() []string {
	return r.distinct(func(rec model.ExamRecord) []string { return []string{rec.Examiner} })
}

// distinct collects trimmed, non-empty values in lexicographic order.
func (r *Repository) distinct(values func(model.ExamRecord) []string) []string {
	set := make(map[string]struct{})
	for _, rec := range r.records {
		for _, v := range values(rec) {
			v = strings.TrimSpace(v)
			if v != "" {
				set[v] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

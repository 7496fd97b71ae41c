package exam

import (
	"errors"
	"slices"
	"testing"
	"time"

	"examcal/internal/model"
)

var berlin = mustLoad("Europe/Berlin")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func fixedNow() time.Time {
	return time.Date(2025, time.March, 1, 12, 0, 0, 0, berlin)
}

func fixtures() []model.ExamRecord {
	return []model.ExamRecord{
		{ID: 1, RawDate: "Do., 26.06.", RawTime: "10:30", Groups: "I4, WI2", Name: "Mathematik 2", Examiner: "Dr. Schmidt", Rooms: "T101, T102"},
		{ID: 2, RawDate: "Fr., 27.06.", RawTime: "08:00", Groups: "I4B", Name: "Programmierung 2", Examiner: "Schmidt-Müller", Rooms: "T201"},
		{ID: 3, RawDate: "Mo., 30.06.", RawTime: "13:00", Groups: "WI2", Name: "BWL", Examiner: "Meier", Rooms: "T101"},
		{ID: 4, RawDate: "kein Datum", RawTime: "10:00", Groups: "I4", Name: "Kaputt", Examiner: "Meier", Rooms: "T301"},
		{ID: 5, RawDate: "Do., 26.06.", RawTime: "14:00", Groups: "I4", Name: "Mathematik 1", Examiner: "Prof. Wagner", Rooms: "T102"},
	}
}

func newRepo() *Repository {
	return NewRepository(fixtures(), Options{Location: berlin, Now: fixedNow})
}

func ids(recs []model.ExamRecord) []int {
	out := make([]int, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestProject_Example(t *testing.T) {
	rec := model.ExamRecord{ID: 1, RawDate: "Do., 26.06.", RawTime: "10:30", Name: "Mathematik 2"}

	ev, err := Project(rec, 2025, berlin)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	wantStart := time.Date(2025, time.June, 26, 10, 30, 0, 0, berlin)
	wantEnd := time.Date(2025, time.June, 26, 13, 0, 0, 0, berlin)
	if !ev.Start.Equal(wantStart) || !ev.End.Equal(wantEnd) {
		t.Fatalf("got %s..%s, want %s..%s", ev.Start, ev.End, wantStart, wantEnd)
	}
	if ev.ID != 1 || ev.Title != "Mathematik 2" {
		t.Fatalf("identity fields not carried over: %+v", ev)
	}
}

func TestProject_DeterministicFixedDuration(t *testing.T) {
	for _, rec := range fixtures() {
		a, errA := Project(rec, 2025, berlin)
		b, errB := Project(rec, 2025, berlin)
		if (errA == nil) != (errB == nil) {
			t.Fatalf("exam %d: inconsistent errors %v / %v", rec.ID, errA, errB)
		}
		if errA != nil {
			continue
		}
		if !a.Start.Equal(b.Start) || !a.End.Equal(b.End) {
			t.Fatalf("exam %d: projection not deterministic", rec.ID)
		}
		if d := a.End.Sub(a.Start); d != 150*time.Minute {
			t.Fatalf("exam %d: duration %s, want 150m", rec.ID, d)
		}
	}
}

func TestProject_Failures(t *testing.T) {
	cases := []struct {
		name  string
		rec   model.ExamRecord
		input string
	}{
		{"no comma", model.ExamRecord{ID: 9, RawDate: "26.06.", RawTime: "10:30"}, "26.06."},
		{"bad day", model.ExamRecord{ID: 9, RawDate: "Mo., 31.02.", RawTime: "10:30"}, "31.02.2025 10:30"},
		{"bad time", model.ExamRecord{ID: 9, RawDate: "Mo., 30.06.", RawTime: "nachmittags"}, "30.06.2025 nachmittags"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Project(tc.rec, 2025, berlin)
			var pe *model.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *model.ParseError", err)
			}
			if pe.ExamID != 9 || pe.Input != tc.input {
				t.Fatalf("ParseError = %+v, want input %q", pe, tc.input)
			}
		})
	}
}

func TestFilter_GroupIsExactToken(t *testing.T) {
	// Group must match a whole token: "I4" must not match "I4B".
	got := ids(newRepo().Filter(Criteria{Group: "I4"}))
	if want := []int{1, 4, 5}; !slices.Equal(got, want) {
		t.Fatalf("Filter(group=I4) = %v, want %v", got, want)
	}
}

func TestFilter_RoomIsExactToken(t *testing.T) {
	got := ids(newRepo().Filter(Criteria{Room: "T10"}))
	if len(got) != 0 {
		t.Fatalf("partial room token matched: %v", got)
	}
	got = ids(newRepo().Filter(Criteria{Room: "T102"}))
	if want := []int{1, 5}; !slices.Equal(got, want) {
		t.Fatalf("Filter(room=T102) = %v, want %v", got, want)
	}
}

func TestFilter_ExaminerAndNameAreSubstrings(t *testing.T) {
	// Substring matching for examiner and name is intended behaviour.
	got := ids(newRepo().Filter(Criteria{Examiner: "Schmidt"}))
	if want := []int{1, 2}; !slices.Equal(got, want) {
		t.Fatalf("Filter(examiner=Schmidt) = %v, want %v", got, want)
	}
	got = ids(newRepo().Filter(Criteria{Name: "Mathematik"}))
	if want := []int{1, 5}; !slices.Equal(got, want) {
		t.Fatalf("Filter(name=Mathematik) = %v, want %v", got, want)
	}
}

func TestFilter_CriteriaAreANDedAndEmptyMeansAll(t *testing.T) {
	repo := newRepo()
	if got := repo.Filter(Criteria{}); len(got) != repo.Len() {
		t.Fatalf("empty criteria returned %d of %d", len(got), repo.Len())
	}
	got := ids(repo.Filter(Criteria{Group: "I4", Room: "T102", Examiner: "Wagner"}))
	if want := []int{5}; !slices.Equal(got, want) {
		t.Fatalf("combined filter = %v, want %v", got, want)
	}
	if got := repo.Filter(Criteria{Group: "WI2", Examiner: "Wagner"}); len(got) != 0 {
		t.Fatalf("disjoint criteria matched %v", ids(got))
	}
}

func TestDistinctValues(t *testing.T) {
	repo := newRepo()

	checks := []struct {
		name string
		got  []string
		want []string
	}{
		{"groups", repo.DistinctGroups(), []string{"I4", "I4B", "WI2"}},
		{"rooms", repo.DistinctRooms(), []string{"T101", "T102", "T201", "T301"}},
		{"names", repo.DistinctNames(), []string{"BWL", "Kaputt", "Mathematik 1", "Mathematik 2", "Programmierung 2"}},
		{"examiners", repo.DistinctExaminers(), []string{"Dr. Schmidt", "Meier", "Prof. Wagner", "Schmidt-Müller"}},
	}
	for _, c := range checks {
		if !slices.Equal(c.got, c.want) {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestByIDAndEventByID(t *testing.T) {
	repo := newRepo()

	rec, ok := repo.ByID(3)
	if !ok || rec.Name != "BWL" {
		t.Fatalf("ByID(3) = %+v, %v", rec, ok)
	}
	if _, ok := repo.ByID(42); ok {
		t.Fatalf("ByID(42) should not be found")
	}

	ev, err := repo.EventByID(3)
	if err != nil {
		t.Fatalf("EventByID(3): %v", err)
	}
	if want := time.Date(2025, time.June, 30, 13, 0, 0, 0, berlin); !ev.Start.Equal(want) {
		t.Fatalf("EventByID(3).Start = %s, want %s", ev.Start, want)
	}

	if _, err := repo.EventByID(42); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("EventByID(42) err = %v, want ErrNotFound", err)
	}
	var pe *model.ParseError
	if _, err := repo.EventByID(4); !errors.As(err, &pe) {
		t.Fatalf("EventByID(4) err = %v, want ParseError", err)
	}
}

func TestEvents_SkipsUnprojectable(t *testing.T) {
	repo := newRepo()
	events, errs := repo.Events(repo.All())
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if len(errs) != 1 || errs[0].ExamID != 4 {
		t.Fatalf("errs = %v, want one error for exam 4", errs)
	}
}

func TestSortedEventDates(t *testing.T) {
	days := newRepo().SortedEventDates()

	want := []time.Time{
		time.Date(2025, time.June, 26, 0, 0, 0, 0, berlin),
		time.Date(2025, time.June, 27, 0, 0, 0, 0, berlin),
		time.Date(2025, time.June, 30, 0, 0, 0, 0, berlin),
	}
	if len(days) != len(want) {
		t.Fatalf("got %d days (%v), want %d", len(days), days, len(want))
	}
	for i := range want {
		if !days[i].Equal(want[i]) {
			t.Fatalf("day %d = %s, want %s", i, days[i], want[i])
		}
	}
}

func TestDisplayRangeAndDays(t *testing.T) {
	repo := newRepo()

	first, end, ok := repo.DisplayRange()
	if !ok {
		t.Fatalf("DisplayRange reported no data")
	}
	if !first.Equal(time.Date(2025, time.June, 26, 0, 0, 0, 0, berlin)) || !end.Equal(time.Date(2025, time.July, 1, 0, 0, 0, 0, berlin)) {
		t.Fatalf("DisplayRange = %s..%s", first, end)
	}

	days, err := repo.DisplayDays()
	if err != nil {
		t.Fatalf("DisplayDays: %v", err)
	}
	// 26 Thu, 27 Fri, 28 Sat, (29 Sun hidden), 30 Mon.
	wantDays := []int{26, 27, 28, 30}
	if len(days) != len(wantDays) {
		t.Fatalf("DisplayDays = %v", days)
	}
	for i, d := range days {
		if d.Day() != wantDays[i] {
			t.Fatalf("day %d = %s, want %d", i, d, wantDays[i])
		}
	}

	empty := NewRepository(nil, Options{Location: berlin, Now: fixedNow})
	if _, _, ok := empty.DisplayRange(); ok {
		t.Fatalf("empty repository should have no range")
	}
}

func TestResolve_DropsUnknownAndDuplicates(t *testing.T) {
	got := ids(newRepo().Resolve([]int{5, 99, 1, 5}))
	if want := []int{1, 5}; !slices.Equal(got, want) {
		t.Fatalf("Resolve = %v, want %v", got, want)
	}
}

func TestReferenceYearFollowsClock(t *testing.T) {
	repo := NewRepository(fixtures(), Options{
		Location: berlin,
		Now:      func() time.Time { return time.Date(2031, time.January, 5, 0, 0, 0, 0, berlin) },
	})
	ev, err := repo.EventByID(1)
	if err != nil {
		t.Fatalf("EventByID: %v", err)
	}
	if ev.Start.Year() != 2031 {
		t.Fatalf("year = %d, want 2031", ev.Start.Year())
	}
}

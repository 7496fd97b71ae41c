package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"examcal/internal/exam"
	"examcal/internal/model"
	"examcal/internal/selection"
)

const scheduleCSV = `ID,DATUM,ZEIT,GRUPPEN,NAME,PRUEFER,RAEUME
1,"Do., 26.06.",10:30,"I4, WI2",Mathematik 2,Dr. Schmidt,"T101, T102"
2,"Fr., 27.06.",08:00,I4B,Programmierung 2,Schmidt-Müller,T201
3,"Mo., 30.06.",13:00,WI2,BWL,Meier,T101
4,kein Datum,10:00,I4,Kaputt,Meier,T301
`

var berlin = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		return time.UTC
	}
	return loc
}()

func fixedNow() time.Time {
	return time.Date(2025, time.March, 1, 12, 0, 0, 0, berlin)
}

type fixture struct {
	app    *App
	store  selection.Store
	source string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	src := filepath.Join(dir, "klausuren.csv")
	if err := os.WriteFile(src, []byte(scheduleCSV), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	store, err := selection.OpenSQLite(filepath.Join(dir, "users.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	a := New(store, Options{
		SourceLocation: src,
		Location:       berlin,
		Now:            fixedNow,
	})
	if _, err := a.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	return &fixture{app: a, store: store, source: src}
}

func (f *fixture) rewriteSource(t *testing.T, body string) {
	t.Helper()
	if err := os.WriteFile(f.source, []byte(body), 0o600); err != nil {
		t.Fatalf("rewrite source: %v", err)
	}
}

func TestNew_StartsEmpty(t *testing.T) {
	a := New(nil, Options{})
	if n := a.Repository().Len(); n != 0 {
		t.Fatalf("fresh app has %d records", n)
	}
	if _, ok, _ := a.DisplayRange(); ok {
		t.Fatalf("empty schedule should have no display range")
	}
}

func TestReload_LoadsAndReportsSkippedRows(t *testing.T) {
	f := newFixture(t)

	if n := f.app.Repository().Len(); n != 4 {
		t.Fatalf("records = %d, want 4", n)
	}

	f.rewriteSource(t, scheduleCSV+"x,\"Di., 01.07.\",09:00,I4,Neu,Meier,T1\n")
	diag, err := f.app.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(diag) != 1 || diag[0].Row != 5 {
		t.Fatalf("diagnostics = %v, want one error in row 5", diag)
	}
}

func TestReload_FailureKeepsPreviousSchedule(t *testing.T) {
	f := newFixture(t)
	before := f.app.Repository()

	if err := os.Remove(f.source); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, err := f.app.Reload(context.Background())
	if !errors.Is(err, model.ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
	if f.app.Repository() != before {
		t.Fatalf("repository replaced after failed reload")
	}
}

func TestReload_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.app.Reload(context.Background())
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if n := f.app.Repository().Len(); n != 4 {
					t.Errorf("reader saw %d records", n)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestExportByPath_MalformedIsValidationError(t *testing.T) {
	f := newFixture(t)
	token := model.NewToken()

	paths := []string{
		"",
		"/ics-export/",
		"/ics-export/" + token.String(),
		"/ics-export/" + token.String() + ".ical",
		"/other/" + token.String() + ".ics",
		"/ics-export/not-a-token.ics",
		"/ics-export/" + strings.ReplaceAll(token.String(), "-", "") + ".ics",
		"/ics-export/" + token.String() + "x.ics",
		"/ics-export/../" + token.String() + ".ics",
	}
	for _, p := range paths {
		body, err := f.app.ExportByPath(p)
		if !errors.Is(err, model.ErrValidation) {
			t.Errorf("ExportByPath(%q) err = %v, want ErrValidation", p, err)
		}
		if len(body) != 0 {
			t.Errorf("ExportByPath(%q) returned %d bytes", p, len(body))
		}
	}
	if _, err := f.store.Get(token); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("malformed requests created the token: %v", err)
	}
}

func TestExportByPath_UnknownTokenIsNotFoundAndNotCreated(t *testing.T) {
	f := newFixture(t)
	token := model.NewToken()

	body, err := f.app.ExportByPath(f.app.ExportPath(token))
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if len(body) != 0 {
		t.Fatalf("unknown token returned %d bytes", len(body))
	}
	if _, err := f.store.Get(token); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("export created the token: %v", err)
	}
}

func TestExportByPath_Success(t *testing.T) {
	f := newFixture(t)

	token, err := f.app.NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}

	empty, err := f.app.ExportByPath(f.app.ExportPath(token))
	if err != nil {
		t.Fatalf("export empty: %v", err)
	}
	if strings.Contains(string(empty), "BEGIN:VEVENT") {
		t.Fatalf("empty selection exported events:\n%s", empty)
	}

	for _, id := range []int{3, 1} {
		if err := f.app.Select(token, id); err != nil {
			t.Fatalf("Select(%d): %v", id, err)
		}
	}
	body, err := f.app.ExportByPath(f.app.ExportPath(token))
	if err != nil {
		t.Fatalf("ExportByPath: %v", err)
	}
	doc := string(body)
	if got := strings.Count(doc, "BEGIN:VEVENT"); got != 2 {
		t.Fatalf("VEVENT count = %d, want 2:\n%s", got, doc)
	}
	first, second := strings.Index(doc, "UID:exam-1"), strings.Index(doc, "UID:exam-3")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("events missing or out of id order:\n%s", doc)
	}
	if !strings.Contains(doc, "DTSTART:20250626T103000") {
		t.Fatalf("exam 1 start missing:\n%s", doc)
	}
}

func TestExport_StaleIDsAreFilteredAtReadTime(t *testing.T) {
	f := newFixture(t)
	token, _ := f.app.NewToken()
	_ = f.app.Select(token, 1)
	_ = f.app.Select(token, 3)

	// Exam 3 disappears from the schedule.
	lines := strings.Split(scheduleCSV, "\n")
	f.rewriteSource(t, strings.Join(slices.Delete(lines, 3, 4), "\n"))
	if _, err := f.app.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	view, err := f.app.Selection(token)
	if err != nil {
		t.Fatalf("Selection: %v", err)
	}
	if !slices.Equal(view.IDs, []int{1}) || view.Stale != 1 {
		t.Fatalf("view = %+v, want ids [1] with one stale", view)
	}

	body, err := f.app.ExportForToken(token)
	if err != nil {
		t.Fatalf("ExportForToken: %v", err)
	}
	if strings.Contains(string(body), "exam-3") {
		t.Fatalf("stale exam exported:\n%s", body)
	}

	// Stored state is not pruned.
	n, err := f.store.Count(token)
	if err != nil || n != 2 {
		t.Fatalf("stored count = %d, %v; want 2", n, err)
	}
}

func TestExport_UnprojectableSelectionIsSkipped(t *testing.T) {
	f := newFixture(t)
	token, _ := f.app.NewToken()
	_ = f.app.Select(token, 4)
	_ = f.app.Select(token, 2)

	body, err := f.app.ExportForToken(token)
	if err != nil {
		t.Fatalf("ExportForToken: %v", err)
	}
	doc := string(body)
	if strings.Contains(doc, "exam-4") || !strings.Contains(doc, "exam-2") {
		t.Fatalf("unexpected export:\n%s", doc)
	}
}

func TestSelectDeselectClear(t *testing.T) {
	f := newFixture(t)
	token := model.NewToken()

	if err := f.app.Select(token, 99); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Select(unknown exam) err = %v, want ErrNotFound", err)
	}

	_ = f.app.Select(token, 1)
	_ = f.app.Select(token, 2)
	if err := f.app.Deselect(token, 1); err != nil {
		t.Fatalf("Deselect: %v", err)
	}
	if err := f.app.Deselect(token, 1); err != nil {
		t.Fatalf("Deselect again: %v", err)
	}
	view, _ := f.app.Selection(token)
	if !slices.Equal(view.IDs, []int{2}) {
		t.Fatalf("ids = %v, want [2]", view.IDs)
	}

	if err := f.app.Clear(token); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	view, _ = f.app.Selection(token)
	if len(view.IDs) != 0 {
		t.Fatalf("ids after clear = %v", view.IDs)
	}
}

func TestImport_ExportedDocumentRestoresSelection(t *testing.T) {
	f := newFixture(t)
	src, _ := f.app.NewToken()
	_ = f.app.Select(src, 1)
	_ = f.app.Select(src, 3)
	doc, err := f.app.ExportForToken(src)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := model.NewToken()
	_ = f.app.Select(dst, 3)
	added, err := f.app.Import(dst, doc)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}
	view, _ := f.app.Selection(dst)
	if !slices.Equal(view.IDs, []int{1, 3}) {
		t.Fatalf("ids = %v, want [1 3]", view.IDs)
	}
}

func TestImport_EmptyBodyIsValidationError(t *testing.T) {
	f := newFixture(t)
	token := model.NewToken()

	if _, err := f.app.Import(token, nil); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if _, err := f.store.Get(token); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("failed import created the token: %v", err)
	}
}

func TestQueries(t *testing.T) {
	f := newFixture(t)

	events := f.app.Exams(exam.Criteria{Group: "I4"})
	if len(events) != 1 || events[0].ID != 1 {
		t.Fatalf("Exams(group=I4) = %+v, want only exam 1", events)
	}

	filters := f.app.FilterValues()
	if !slices.Equal(filters.Groups, []string{"I4", "I4B", "WI2"}) {
		t.Fatalf("groups = %v", filters.Groups)
	}
	if !slices.Equal(filters.Rooms, []string{"T101", "T102", "T201", "T301"}) {
		t.Fatalf("rooms = %v", filters.Rooms)
	}

	r, ok, err := f.app.DisplayRange()
	if err != nil || !ok {
		t.Fatalf("DisplayRange: ok=%v err=%v", ok, err)
	}
	if !r.First.Equal(time.Date(2025, time.June, 26, 0, 0, 0, 0, berlin)) ||
		!r.End.Equal(time.Date(2025, time.July, 1, 0, 0, 0, 0, berlin)) {
		t.Fatalf("range = %s..%s", r.First, r.End)
	}
	// 26, 27, 28 and 30 June; Sunday the 29th is hidden.
	if len(r.Days) != 4 {
		t.Fatalf("display days = %v", r.Days)
	}
}

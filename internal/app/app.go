// Package app ties the loaded schedule, the selection store and the
// calendar export together. The HTTP layer and the binary only talk to App.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"examcal/internal/exam"
	"examcal/internal/ics"
	appLog "examcal/internal/log"
	"examcal/internal/model"
	"examcal/internal/selection"
	"examcal/internal/source"
)

// ExportSuffix ends every export link.
const ExportSuffix = ".ics"

// DefaultPathPrefix is used when Options.PathPrefix is empty.
const DefaultPathPrefix = "/ics-export/"

// Options configures an App.
type Options struct {
	// SourceLocation is a local path or http(s) URL of the schedule.
	SourceLocation string
	Delimiter      rune
	// Fetcher downloads remote sources. Nil uses an uncached default.
	Fetcher *source.Fetcher

	// Location for exam wall-clock times. Nil means time.Local.
	Location *time.Location
	// Now supplies the reference year and DTSTAMP. Nil means time.Now.
	Now func() time.Time

	ProductID  string
	PathPrefix string
}

// App is safe for concurrent use. The repository is replaced as a whole on
// Reload; readers keep whatever snapshot they loaded.
type App struct {
	store selection.Store
	opts  Options

	repo     atomic.Pointer[exam.Repository]
	reloadMu sync.Mutex
}

// New returns an App with an empty schedule. Call Reload to load the source.
func New(store selection.Store, opts Options) *App {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PathPrefix == "" {
		opts.PathPrefix = DefaultPathPrefix
	}
	if !strings.HasPrefix(opts.PathPrefix, "/") {
		opts.PathPrefix = "/" + opts.PathPrefix
	}
	if !strings.HasSuffix(opts.PathPrefix, "/") {
		opts.PathPrefix += "/"
	}
	a := &App{store: store, opts: opts}
	a.repo.Store(a.newRepository(nil))
	return a
}

func (a *App) newRepository(records []model.ExamRecord) *exam.Repository {
	return exam.NewRepository(records, exam.Options{Location: a.opts.Location, Now: a.opts.Now})
}

// Repository returns the current schedule snapshot.
func (a *App) Repository() *exam.Repository {
	return a.repo.Load()
}

// Reload reads the source and swaps in a new repository. Skipped rows are
// returned as diagnostics. On error the previous repository stays active.
func (a *App) Reload(ctx context.Context) ([]*model.ParseError, error) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	start := time.Now()
	res, err := source.Open(ctx, a.opts.SourceLocation, a.opts.Fetcher, source.Options{Delimiter: a.opts.Delimiter})
	if err != nil {
		return nil, err
	}

	repo := a.newRepository(res.Records)
	a.repo.Store(repo)

	appLog.Info("schedule loaded",
		"records", repo.Len(),
		"skipped", len(res.Errors),
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
	return res.Errors, nil
}

// ExportPath returns the export link for token.
func (a *App) ExportPath(token model.Token) string {
	return a.opts.PathPrefix + token.String() + ExportSuffix
}

// ExportByPath serves an export link: the path must be the configured
// prefix, a canonical token and ".ics". Malformed paths or tokens fail with
// model.ErrValidation and unknown tokens with model.ErrNotFound. Neither
// case touches the store's contents.
func (a *App) ExportByPath(path string) ([]byte, error) {
	rest, ok := strings.CutPrefix(path, a.opts.PathPrefix)
	if !ok {
		return nil, fmt.Errorf("export path %q: missing prefix %q: %w", path, a.opts.PathPrefix, model.ErrValidation)
	}
	raw, ok := strings.CutSuffix(rest, ExportSuffix)
	if !ok {
		return nil, fmt.Errorf("export path %q: missing %s suffix: %w", path, ExportSuffix, model.ErrValidation)
	}
	token, err := model.ParseToken(raw)
	if err != nil {
		return nil, err
	}
	return a.ExportForToken(token)
}

// ExportForToken renders the selection of an existing token. Ids no longer
// present in the schedule are left out.
func (a *App) ExportForToken(token model.Token) ([]byte, error) {
	sel, err := a.store.Get(token)
	if err != nil {
		return nil, err
	}
	repo := a.Repository()
	recs := repo.Resolve(sel.SortedIDs())
	if stale := sel.Count() - len(recs); stale > 0 {
		appLog.Debug("export: stale ids ignored", "token", token.String(), "stale", stale)
	}
	return a.exporter(repo).Serialize(recs), nil
}

func (a *App) exporter(repo *exam.Repository) ics.Exporter {
	return ics.Exporter{
		ProductID: a.opts.ProductID,
		Location:  repo.Location(),
		Now:       a.opts.Now,
	}
}

// NewToken issues a random token and persists its empty selection.
func (a *App) NewToken() (model.Token, error) {
	token := model.NewToken()
	if _, err := a.store.LoadOrCreate(token); err != nil {
		return model.Token{}, err
	}
	return token, nil
}

// SelectionView is a token's selection as seen through the current
// schedule.
type SelectionView struct {
	Token model.Token
	// IDs are the stored ids that exist in the schedule, ascending.
	IDs []int
	// Stale counts stored ids the schedule no longer has.
	Stale int
	Exams []model.ExamRecord
}

// Selection loads (or creates) the selection of token.
func (a *App) Selection(token model.Token) (SelectionView, error) {
	sel, err := a.store.LoadOrCreate(token)
	if err != nil {
		return SelectionView{}, err
	}
	recs := a.Repository().Resolve(sel.SortedIDs())
	ids := make([]int, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	return SelectionView{
		Token: token,
		IDs:   ids,
		Stale: sel.Count() - len(recs),
		Exams: recs,
	}, nil
}

// Select adds examID to the selection. Unknown exams fail with
// model.ErrNotFound.
func (a *App) Select(token model.Token, examID int) error {
	if _, ok := a.Repository().ByID(examID); !ok {
		return fmt.Errorf("exam %d: %w", examID, model.ErrNotFound)
	}
	return a.store.Add(token, examID)
}

// Deselect removes examID; removing an unselected exam is a no-op.
func (a *App) Deselect(token model.Token, examID int) error {
	return a.store.Remove(token, examID)
}

// Clear empties the selection of token.
func (a *App) Clear(token model.Token) error {
	return a.store.Replace(token, nil)
}

// Import merges the exams of a previously exported calendar document into
// the selection and returns how many were new. Ids unknown to the current
// schedule are ignored.
func (a *App) Import(token model.Token, body []byte) (int, error) {
	ids, err := ics.ParseExamIDs(body)
	if err != nil {
		return 0, fmt.Errorf("import: %w: %w", model.ErrValidation, err)
	}

	sel, err := a.store.LoadOrCreate(token)
	if err != nil {
		return 0, err
	}
	repo := a.Repository()
	added := 0
	for _, id := range ids {
		if _, ok := repo.ByID(id); !ok || sel.Has(id) {
			continue
		}
		if err := a.store.Add(token, id); err != nil {
			return added, err
		}
		sel.Add(id)
		added++
	}
	appLog.Info("selection imported", "token", token.String(), "added", added, "in_document", len(ids))
	return added, nil
}

// Filters lists the distinct filter values of the current schedule.
type Filters struct {
	Groups    []string `json:"groups"`
	Rooms     []string `json:"rooms"`
	Names     []string `json:"names"`
	Examiners []string `json:"examiners"`
}

// FilterValues returns the distinct filter values.
func (a *App) FilterValues() Filters {
	repo := a.Repository()
	return Filters{
		Groups:    repo.DistinctGroups(),
		Rooms:     repo.DistinctRooms(),
		Names:     repo.DistinctNames(),
		Examiners: repo.DistinctExaminers(),
	}
}

// Exams projects the exams matching c. Exams whose date cannot be projected
// are left out.
func (a *App) Exams(c exam.Criteria) []model.ProjectedEvent {
	repo := a.Repository()
	events, _ := repo.Events(repo.Filter(c))
	return events
}

// Range is the calendar span the schedule covers.
type Range struct {
	First time.Time
	// End is exclusive: the day after the last exam day.
	End  time.Time
	Days []time.Time
}

// DisplayRange returns the span of exam days and the days to display.
// ok is false when no exam could be projected.
func (a *App) DisplayRange() (Range, bool, error) {
	repo := a.Repository()
	first, end, ok := repo.DisplayRange()
	if !ok {
		return Range{}, false, nil
	}
	days, err := repo.DisplayDays()
	if err != nil {
		return Range{}, false, err
	}
	return Range{First: first, End: end, Days: days}, true, nil
}

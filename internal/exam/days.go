package exam

import (
	"time"

	"github.com/teambition/rrule-go"
)

var rruleWeekdays = [7]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// DisplayDays lists every day from first to last (both inclusive) except
// the hidden weekdays. Times are kept at first's clock time and location.
func DisplayDays(first, last time.Time, hidden ...time.Weekday) ([]time.Time, error) {
	if last.Before(first) {
		return nil, nil
	}

	skip := make(map[time.Weekday]bool, len(hidden))
	for _, wd := range hidden {
		skip[wd] = true
	}
	byWeekday := make([]rrule.Weekday, 0, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if !skip[wd] {
			byWeekday = append(byWeekday, rruleWeekdays[wd])
		}
	}
	if len(byWeekday) == 0 {
		return nil, nil
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.DAILY,
		Dtstart:   first,
		Until:     last,
		Byweekday: byWeekday,
	})
	if err != nil {
		return nil, err
	}
	return rule.All(), nil
}

// DisplayDays enumerates the exam period of r with Sundays hidden.
func (r *Repository) DisplayDays() ([]time.Time, error) {
	days := r.SortedEventDates()
	if len(days) == 0 {
		return nil, nil
	}
	return DisplayDays(days[0], days[len(days)-1], time.Sunday)
}

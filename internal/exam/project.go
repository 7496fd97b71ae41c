package exam

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"examcal/internal/model"
)

// ExamDuration is the fixed length of every exam. No source field carries
// a duration.
const ExamDuration = 150 * time.Minute

// dateTimeLayout matches the composed "day.month.year hour:minute" string.
const dateTimeLayout = "02.01.2006 15:04"

var errNoComma = errors.New("date has no weekday prefix separated by a comma")

// Project resolves rec into an absolute interval. RawDate carries no year,
// so year is appended; loc is the zone the wall-clock time is read in (nil
// means time.Local). Project has no side effects and may be called any
// number of times for the same record.
func Project(rec model.ExamRecord, year int, loc *time.Location) (model.ProjectedEvent, error) {
	if loc == nil {
		loc = time.Local
	}

	composed, err := composeDateTime(rec, year)
	if err != nil {
		return model.ProjectedEvent{}, &model.ParseError{ExamID: rec.ID, Input: rec.RawDate, Err: err}
	}

	start, err := time.ParseInLocation(dateTimeLayout, composed, loc)
	if err != nil {
		return model.ProjectedEvent{}, &model.ParseError{ExamID: rec.ID, Input: composed, Err: err}
	}

	return model.ProjectedEvent{
		ID:       rec.ID,
		Title:    rec.Name,
		Start:    start,
		End:      start.Add(ExamDuration),
		Groups:   rec.Groups,
		Examiner: rec.Examiner,
		Rooms:    rec.Rooms,
	}, nil
}

// composeDateTime turns "Do., 26.06." + "10:30" into "26.06.2025 10:30".
func composeDateTime(rec model.ExamRecord, year int) (string, error) {
	_, dayMonth, ok := strings.Cut(rec.RawDate, ",")
	if !ok {
		return "", errNoComma
	}
	return strings.TrimSpace(dayMonth) + strconv.Itoa(year) + " " + strings.TrimSpace(rec.RawTime), nil
}

package ics

import (
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"examcal/internal/exam"
	appLog "examcal/internal/log"
	"examcal/internal/model"
)

// ContentType is the media type of an exported document.
const ContentType = "text/calendar; charset=utf-8"

// DefaultProductID is written to PRODID when none is configured.
const DefaultProductID = "-//examcal//Exam Schedule Export//DE"

// UIDPrefix prefixes the exam id in every VEVENT UID.
const UIDPrefix = "exam-"

// localBasicLayout renders floating local time, i.e. without a zone
// suffix or TZID.
const localBasicLayout = "20060102T150405"

// Exporter renders exam records as an iCalendar document.
type Exporter struct {
	// ProductID is written to PRODID. Empty means DefaultProductID.
	ProductID string
	// Location is where exam wall-clock times are read. Nil means time.Local.
	Location *time.Location
	// Now stamps DTSTAMP and supplies the reference year. Nil means time.Now.
	Now func() time.Time
}

// Serialize builds one VEVENT per record, in input order. Records whose
// date cannot be projected are left out instead of failing the export.
func (e Exporter) Serialize(recs []model.ExamRecord) []byte {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	loc := e.Location
	if loc == nil {
		loc = time.Local
	}
	prodID := e.ProductID
	if prodID == "" {
		prodID = DefaultProductID
	}

	stamp := now()
	year := stamp.In(loc).Year()

	cal := ical.NewCalendar()
	cal.SetProductId(prodID)

	skipped := 0
	for _, rec := range recs {
		ev, err := exam.Project(rec, year, loc)
		if err != nil {
			skipped++
			appLog.Warn("export: exam skipped", "id", rec.ID, "cause", err)
			continue
		}

		vevent := cal.AddEvent(UIDPrefix + strconv.Itoa(rec.ID))
		vevent.SetDtStampTime(stamp)
		vevent.SetProperty(ical.ComponentPropertyDtStart, ev.Start.Format(localBasicLayout))
		vevent.SetProperty(ical.ComponentPropertyDtEnd, ev.End.Format(localBasicLayout))
		vevent.SetSummary(rec.Name)
		vevent.SetDescription(Description(rec))
		vevent.SetLocation(rec.Rooms)
	}

	appLog.Debug("export serialized", "events", len(recs)-skipped, "skipped", skipped)
	return []byte(cal.Serialize(ical.WithNewLineWindows))
}

// Description is the DESCRIPTION text of an exported exam.
func Description(rec model.ExamRecord) string {
	return "Prüfer: " + rec.Examiner + " - Gruppe: " + rec.Groups
}

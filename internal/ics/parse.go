package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	ical "github.com/arran4/golang-ical"

	appLog "examcal/internal/log"
)

// ParseExamIDs reads a calendar document, typically one produced by
// Exporter, and returns the exam ids found in "exam-<id>" UIDs in document
// order. Events with foreign UIDs are ignored.
func ParseExamIDs(body []byte) ([]int, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty calendar body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0)
	for _, ve := range cal.Events() {
		uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
		if uidProp == nil {
			continue
		}
		rest, ok := strings.CutPrefix(strings.TrimSpace(uidProp.Value), UIDPrefix)
		if !ok {
			appLog.Debug("import: foreign uid ignored", "uid", uidProp.Value)
			continue
		}
		id, err := strconv.Atoi(rest)
		if err != nil {
			appLog.Warn("import: malformed exam uid", "uid", uidProp.Value)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	appLog "examcal/internal/log"
	"examcal/internal/model"
)

// Column names expected in the header row.
const (
	ColID       = "ID"
	ColDate     = "DATUM"
	ColTime     = "ZEIT"
	ColGroups   = "GRUPPEN"
	ColName     = "NAME"
	ColExaminer = "PRUEFER"
	ColRooms    = "RAEUME"
)

var requiredColumns = []string{ColID, ColDate, ColTime, ColGroups, ColName, ColExaminer, ColRooms}

// Options controls how a delimited schedule is read.
type Options struct {
	// Delimiter separates fields. Zero means ','.
	Delimiter rune
}

// Result is the outcome of one load: records in source order plus the
// rows that had to be skipped.
type Result struct {
	Records []model.ExamRecord
	Errors  []*model.ParseError
}

// Load opens the file at path and parses it. Only a failure to open or read
// the file is returned as an error; bad rows end up in Result.Errors.
func Load(path string, opts Options) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
	}
	defer f.Close()

	return Parse(f, opts)
}

// Parse reads a schedule with header columns ID, DATUM, ZEIT, GRUPPEN,
// NAME, PRUEFER, RAEUME (any order, extra columns ignored).
func Parse(r io.Reader, opts Options) (Result, error) {
	var res Result

	cr := csv.NewReader(r)
	cr.Comma = opts.Delimiter
	if cr.Comma == 0 {
		cr.Comma = ','
	}
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		return res, fmt.Errorf("%w: read header: %w", model.ErrSourceUnavailable, err)
	}
	index, missing := mapHeader(header)

	seen := make(map[int]int)
	row := 0
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return res, fmt.Errorf("%w: read row %d: %w", model.ErrSourceUnavailable, row, err)
			}
			res.skip(row, err)
			continue
		}
		if len(missing) > 0 {
			res.skip(row, fmt.Errorf("header lacks column(s) %s", strings.Join(missing, ", ")))
			continue
		}

		rec, err := mapRow(fields, index)
		if err != nil {
			res.skip(row, err)
			continue
		}
		if first, dup := seen[rec.ID]; dup {
			res.skip(row, fmt.Errorf("duplicate id %d (first seen in row %d)", rec.ID, first))
			continue
		}
		seen[rec.ID] = row
		res.Records = append(res.Records, rec)
	}

	appLog.Info("schedule parsed", "records", len(res.Records), "skipped", len(res.Errors))
	return res, nil
}

func (res *Result) skip(row int, err error) {
	pe := &model.ParseError{Row: row, Err: err}
	appLog.Warn("schedule row skipped", "row", row, "cause", err)
	res.Errors = append(res.Errors, pe)
}

// mapHeader returns column positions keyed by normalized name and the
// required columns that are absent.
func mapHeader(header []string) (map[string]int, []string) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		name := strings.ToUpper(strings.TrimSpace(h))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	return index, missing
}

func mapRow(fields []string, index map[string]int) (model.ExamRecord, error) {
	get := func(col string) (string, error) {
		i := index[col]
		if i >= len(fields) {
			return "", fmt.Errorf("missing value for column %s", col)
		}
		return strings.TrimSpace(fields[i]), nil
	}

	var rec model.ExamRecord
	rawID, err := get(ColID)
	if err != nil {
		return rec, err
	}
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return rec, fmt.Errorf("invalid id %q", rawID)
	}
	rec.ID = id

	targets := []struct {
		col string
		dst *string
	}{
		{ColDate, &rec.RawDate},
		{ColTime, &rec.RawTime},
		{ColGroups, &rec.Groups},
		{ColName, &rec.Name},
		{ColExaminer, &rec.Examiner},
		{ColRooms, &rec.Rooms},
	}
	for _, t := range targets {
		v, err := get(t.col)
		if err != nil {
			return rec, err
		}
		*t.dst = v
	}
	return rec, nil
}

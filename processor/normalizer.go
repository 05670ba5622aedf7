package processor

import (
	"math"
	"strconv"
	"strings"
	"time"

	"fixturefeed/models"
)

type floatColumn struct {
	name     string
	positive bool
	set      func(*models.NormalizedRow, *float64)
}

var probabilityColumns = []floatColumn{
	{name: models.ColHomePrediction, set: func(r *models.NormalizedRow, v *float64) { r.HomeWinPrediction = v }},
	{name: models.ColDrawPrediction, set: func(r *models.NormalizedRow, v *float64) { r.DrawPrediction = v }},
	{name: models.ColAwayPrediction, set: func(r *models.NormalizedRow, v *float64) { r.AwayWinPrediction = v }},
	{name: models.ColHomeMarket, set: func(r *models.NormalizedRow, v *float64) { r.HomeWinMarket = v }},
	{name: models.ColDrawMarket, set: func(r *models.NormalizedRow, v *float64) { r.DrawMarket = v }},
	{name: models.ColAwayMarket, set: func(r *models.NormalizedRow, v *float64) { r.AwayWinMarket = v }},
	{name: models.ColHomeOdds, positive: true, set: func(r *models.NormalizedRow, v *float64) { r.HomeWinOdds = v }},
	{name: models.ColDrawOdds, positive: true, set: func(r *models.NormalizedRow, v *float64) { r.DrawOdds = v }},
	{name: models.ColAwayOdds, positive: true, set: func(r *models.NormalizedRow, v *float64) { r.AwayWinOdds = v }},
}

type dateColumn struct {
	name string
	set  func(*models.NormalizedRow, *time.Time)
}

var dateColumns = []dateColumn{
	{name: models.ColMatchDate, set: func(r *models.NormalizedRow, v *time.Time) { r.MatchDate = v }},
	{name: models.ColRunDate, set: func(r *models.NormalizedRow, v *time.Time) { r.RunDate = v }},
}

// Normalize types every record of a validated frame. Cells that cannot be
// converted become nil and are listed in Issues; the row is kept. Records
// with an empty fixture are dropped and counted. Source order is preserved
// and probabilities are passed through without clamping.
func Normalize(frame *models.RawFrame, schema models.Schema) *models.NormalizedTable {
	table := &models.NormalizedTable{
		Schema:  schema,
		Columns: append([]string(nil), frame.Columns...),
		Skipped: frame.Skipped,
	}

	for _, rec := range frame.Records {
		fixture, _ := rec.Get(models.ColFixture)
		fixture = strings.TrimSpace(fixture)
		if fixture == "" {
			table.Dropped++
			continue
		}

		row := models.NormalizedRow{Fixture: fixture, Line: rec.Line}

		for _, col := range dateColumns {
			raw, _ := rec.Get(col.name)
			v, issue := coerceDate(raw)
			col.set(&row, v)
			if issue != "" {
				table.Issues = append(table.Issues, models.CoercionIssue{Line: rec.Line, Column: col.name, Value: raw, Reason: issue})
			}
		}

		for _, col := range probabilityColumns {
			raw, _ := rec.Get(col.name)
			v, issue := coerceFloat(raw, col.positive)
			col.set(&row, v)
			if issue != "" {
				table.Issues = append(table.Issues, models.CoercionIssue{Line: rec.Line, Column: col.name, Value: raw, Reason: issue})
			}
		}

		row.Extras = extras(rec, schema)
		table.Rows = append(table.Rows, row)
	}

	return table
}

func coerceDate(raw string) (*time.Time, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ""
	}
	t, err := ParseDayFirst(raw)
	if err != nil {
		return nil, "unparsable date"
	}
	return &t, ""
}

func coerceFloat(raw string, positive bool) (*float64, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ""
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, "not a number"
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, "not a finite number"
	}
	if positive && v <= 0 {
		return nil, "odds must be positive"
	}
	return &v, ""
}

// extras keeps the columns the schema does not know about. Duplicate names
// keep their first value.
func extras(rec models.RawRecord, schema models.Schema) map[string]string {
	var out map[string]string
	for _, f := range rec.Fields {
		if schema.Contains(f.Name) {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		if _, seen := out[f.Name]; !seen {
			out[f.Name] = f.Value
		}
	}
	return out
}

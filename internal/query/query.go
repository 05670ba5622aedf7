package query

import (
	"sort"

	"fixturefeed/models"
)

// Fixtures lists the distinct fixture names in the order they first appear.
func Fixtures(table *models.NormalizedTable) []string {
	if table == nil {
		return []string{}
	}
	seen := make(map[string]struct{}, len(table.Rows))
	names := make([]string, 0, len(table.Rows))
	for _, row := range table.Rows {
		if _, ok := seen[row.Fixture]; ok {
			continue
		}
		seen[row.Fixture] = struct{}{}
		names = append(names, row.Fixture)
	}
	return names
}

// RowsForFixture returns every row whose fixture equals name exactly, in
// table order. No match yields an empty, non-nil slice.
func RowsForFixture(table *models.NormalizedTable, name string) []models.NormalizedRow {
	rows := []models.NormalizedRow{}
	if table == nil {
		return rows
	}
	for _, row := range table.Rows {
		if row.Fixture == name {
			rows = append(rows, row)
		}
	}
	return rows
}

// FirstForFixture returns the first row for name.
func FirstForFixture(table *models.NormalizedTable, name string) (models.NormalizedRow, bool) {
	if table != nil {
		for _, row := range table.Rows {
			if row.Fixture == name {
				return row, true
			}
		}
	}
	return models.NormalizedRow{}, false
}

// SortByMatchDate returns a copy of rows ordered by match date ascending.
// Rows without a date go last; ties keep their original order.
func SortByMatchDate(rows []models.NormalizedRow) []models.NormalizedRow {
	out := make([]models.NormalizedRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].MatchDate, out[j].MatchDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return out
}

// ChartSeries flattens a row into six bars: home, draw and away, each with
// the model prediction followed by the market implied probability.
func ChartSeries(row models.NormalizedRow) []models.ChartPoint {
	return []models.ChartPoint{
		{Outcome: models.OutcomeHome, Probability: row.HomeWinPrediction, Source: models.SourcePrediction},
		{Outcome: models.OutcomeHome, Probability: row.HomeWinMarket, Source: models.SourceMarket},
		{Outcome: models.OutcomeDraw, Probability: row.DrawPrediction, Source: models.SourcePrediction},
		{Outcome: models.OutcomeDraw, Probability: row.DrawMarket, Source: models.SourceMarket},
		{Outcome: models.OutcomeAway, Probability: row.AwayWinPrediction, Source: models.SourcePrediction},
		{Outcome: models.OutcomeAway, Probability: row.AwayWinMarket, Source: models.SourceMarket},
	}
}

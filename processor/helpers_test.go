package processor

import (
	"strings"

	"fixturefeed/models"
)

func arsenalRow() map[string]string {
	return map[string]string{
		models.ColFixture:        "Arsenal vs Chelsea",
		models.ColMatchDate:      "01-11-25",
		models.ColHomePrediction: "0.55",
		models.ColDrawPrediction: "0.25",
		models.ColAwayPrediction: "0.20",
		models.ColHomeMarket:     "0.50",
		models.ColDrawMarket:     "0.27",
		models.ColAwayMarket:     "0.23",
		models.ColHomeOdds:       "1.95",
		models.ColDrawOdds:       "3.60",
		models.ColAwayOdds:       "4.20",
		models.ColRunDate:        "30-10-2025",
	}
}

func rowWith(overrides map[string]string) map[string]string {
	row := arsenalRow()
	for k, v := range overrides {
		row[k] = v
	}
	return row
}

// csvFor renders rows under the given header; absent keys become empty cells.
func csvFor(columns []string, rows ...map[string]string) string {
	var b strings.Builder
	b.WriteString(strings.Join(columns, ","))
	b.WriteString("\n")
	for _, r := range rows {
		vals := make([]string, len(columns))
		for i, c := range columns {
			vals[i] = r[c]
		}
		b.WriteString(strings.Join(vals, ","))
		b.WriteString("\n")
	}
	return b.String()
}

func feedCSV(rows ...map[string]string) string {
	return csvFor(models.FeedSchema.Columns(), rows...)
}

func without(columns []string, drop string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if c != drop {
			out = append(out, c)
		}
	}
	return out
}

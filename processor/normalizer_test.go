package processor

import (
	"reflect"
	"testing"
	"time"

	"fixturefeed/models"
)

func normalizeCSV(t *testing.T, data string) *models.NormalizedTable {
	t.Helper()
	frame, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := ValidateColumns(frame.Columns, models.FeedSchema); err != nil {
		t.Fatalf("ValidateColumns: %v", err)
	}
	return Normalize(frame, models.FeedSchema)
}

func TestNormalizeArsenalRow(t *testing.T) {
	table := normalizeCSV(t, feedCSV(arsenalRow()))
	if table.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", table.Len())
	}
	row := table.Rows[0]

	if row.Fixture != "Arsenal vs Chelsea" {
		t.Fatalf("fixture = %q", row.Fixture)
	}
	if row.MatchDate == nil || !row.MatchDate.Equal(time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("match date = %v, want 2025-11-01", row.MatchDate)
	}
	if row.HomeWinPrediction == nil || *row.HomeWinPrediction != 0.55 {
		t.Fatalf("home win prediction = %v, want 0.55", row.HomeWinPrediction)
	}
	if row.AwayWinOdds == nil || *row.AwayWinOdds != 4.20 {
		t.Fatalf("away odds = %v", row.AwayWinOdds)
	}
	if row.RunDate == nil || row.RunDateDisplay(models.CanonicalDateLayout) != "2025-10-30" {
		t.Fatalf("run date = %v", row.RunDate)
	}
	if len(table.Issues) != 0 {
		t.Fatalf("unexpected issues: %+v", table.Issues)
	}
}

func TestNormalizeNullsBadCellsAndKeepsRow(t *testing.T) {
	table := normalizeCSV(t, feedCSV(
		rowWith(map[string]string{models.ColDrawPrediction: "n/a"}),
		rowWith(map[string]string{models.ColHomeOdds: "evens"}),
	))
	if table.Len() != 2 {
		t.Fatalf("rows were dropped: %d", table.Len())
	}

	want := normalizeCSV(t, feedCSV(arsenalRow())).Rows[0]

	first := table.Rows[0]
	if first.DrawPrediction != nil {
		t.Fatalf("draw prediction should be nil, got %v", *first.DrawPrediction)
	}
	first.DrawPrediction = want.DrawPrediction
	first.Line = want.Line
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("other fields changed:\n got %+v\nwant %+v", first, want)
	}

	second := table.Rows[1]
	if second.HomeWinOdds != nil {
		t.Fatalf("home odds should be nil")
	}
	if second.HomeWinPrediction == nil || *second.HomeWinPrediction != 0.55 {
		t.Fatalf("unrelated field affected")
	}

	if len(table.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %+v", table.Issues)
	}
	if table.Issues[0].Column != models.ColDrawPrediction || table.Issues[0].Value != "n/a" || table.Issues[0].Line != 2 {
		t.Fatalf("unexpected first issue %+v", table.Issues[0])
	}
}

func TestNormalizeProbabilitiesNotClamped(t *testing.T) {
	table := normalizeCSV(t, feedCSV(rowWith(map[string]string{
		models.ColHomePrediction: "1.7",
		models.ColAwayMarket:     "-0.1",
	})))
	row := table.Rows[0]
	if row.HomeWinPrediction == nil || *row.HomeWinPrediction != 1.7 {
		t.Fatalf("out of range probability altered: %v", row.HomeWinPrediction)
	}
	if row.AwayWinMarket == nil || *row.AwayWinMarket != -0.1 {
		t.Fatalf("negative probability altered: %v", row.AwayWinMarket)
	}
}

func TestNormalizeOddsMustBePositive(t *testing.T) {
	table := normalizeCSV(t, feedCSV(rowWith(map[string]string{
		models.ColHomeOdds: "0",
		models.ColDrawOdds: "-2.5",
		models.ColAwayOdds: "NaN",
	})))
	row := table.Rows[0]
	if row.HomeWinOdds != nil || row.DrawOdds != nil || row.AwayWinOdds != nil {
		t.Fatalf("non-positive or NaN odds kept: %+v", row)
	}
	if len(table.Issues) != 3 {
		t.Fatalf("expected 3 issues, got %d", len(table.Issues))
	}
}

func TestNormalizeEmptyCellsAreNullWithoutIssue(t *testing.T) {
	table := normalizeCSV(t, feedCSV(rowWith(map[string]string{
		models.ColMatchDate:  "",
		models.ColDrawMarket: " ",
	})))
	row := table.Rows[0]
	if row.MatchDate != nil || row.DrawMarket != nil {
		t.Fatalf("empty cells should be nil")
	}
	if len(table.Issues) != 0 {
		t.Fatalf("empty cells are not coercion issues: %+v", table.Issues)
	}
}

func TestNormalizeBadDate(t *testing.T) {
	table := normalizeCSV(t, feedCSV(rowWith(map[string]string{models.ColMatchDate: "TBC"})))
	row := table.Rows[0]
	if row.MatchDate != nil {
		t.Fatalf("bad date should be nil")
	}
	if row.HomeWinPrediction == nil {
		t.Fatalf("bad date affected other fields")
	}
	if len(table.Issues) != 1 || table.Issues[0].Column != models.ColMatchDate {
		t.Fatalf("unexpected issues %+v", table.Issues)
	}
}

func TestNormalizeDropsRowsWithoutFixture(t *testing.T) {
	table := normalizeCSV(t, feedCSV(
		rowWith(map[string]string{models.ColFixture: "Spurs vs Fulham"}),
		rowWith(map[string]string{models.ColFixture: ""}),
		rowWith(map[string]string{models.ColFixture: "   "}),
		arsenalRow(),
	))
	if table.Dropped != 2 {
		t.Fatalf("dropped = %d, want 2", table.Dropped)
	}
	if table.Len() != 2 || table.Rows[0].Fixture != "Spurs vs Fulham" || table.Rows[1].Fixture != "Arsenal vs Chelsea" {
		t.Fatalf("unexpected rows %+v", table.Rows)
	}
}

func TestNormalizeKeepsExtraColumns(t *testing.T) {
	cols := append(models.FeedSchema.Columns(), "Venue")
	row := rowWith(map[string]string{"Venue": "Emirates"})
	table := normalizeCSV(t, csvFor(cols, row))

	if got := table.Rows[0].Extras["Venue"]; got != "Emirates" {
		t.Fatalf("extra column lost: %v", table.Rows[0].Extras)
	}
	if !reflect.DeepEqual(table.Columns, cols) {
		t.Fatalf("columns = %v", table.Columns)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	data := feedCSV(
		arsenalRow(),
		rowWith(map[string]string{models.ColFixture: "Leeds vs Everton", models.ColDrawPrediction: "x"}),
		rowWith(map[string]string{models.ColFixture: ""}),
	)
	frame, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	first := Normalize(frame, models.FeedSchema)
	second := Normalize(frame, models.FeedSchema)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("normalizing twice gave different tables")
	}
	if first.Rows[0].HomeWinPrediction == second.Rows[0].HomeWinPrediction {
		t.Fatalf("tables share cell storage")
	}
}

func TestNormalizePreservesSkipped(t *testing.T) {
	data := feedCSV(arsenalRow()) + "broken,line\n"
	table := normalizeCSV(t, data)
	if table.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", table.Skipped)
	}
}

package models

import "time"

// CanonicalDateLayout is the sortable text form of a normalized date.
const CanonicalDateLayout = "2006-01-02"

// Outcome labels used in chart series.
const (
	OutcomeHome = "Home Win"
	OutcomeDraw = "Draw"
	OutcomeAway = "Away Win"
)

// Source labels used in chart series.
const (
	SourcePrediction = "Prediction"
	SourceMarket     = "Market"
)

// NormalizedRow is one fixture line with every field coerced to its type.
// A nil pointer means the source cell was empty or could not be parsed.
type NormalizedRow struct {
	Fixture   string     `json:"fixture"`
	MatchDate *time.Time `json:"match_date"`
	RunDate   *time.Time `json:"run_date"`

	HomeWinPrediction *float64 `json:"home_win_prediction"`
	DrawPrediction    *float64 `json:"draw_prediction"`
	AwayWinPrediction *float64 `json:"away_win_prediction"`

	HomeWinMarket *float64 `json:"home_win_market"`
	DrawMarket    *float64 `json:"draw_market"`
	AwayWinMarket *float64 `json:"away_win_market"`

	HomeWinOdds *float64 `json:"home_win_odds"`
	DrawOdds    *float64 `json:"draw_odds"`
	AwayWinOdds *float64 `json:"away_win_odds"`

	Line   int               `json:"line"`
	Extras map[string]string `json:"extras,omitempty"`
}

// MatchDateDisplay renders the match date with layout, or "" when unknown.
func (r NormalizedRow) MatchDateDisplay(layout string) string {
	return FormatDate(r.MatchDate, layout)
}

// RunDateDisplay renders the run date with layout, or "" when unknown.
func (r NormalizedRow) RunDateDisplay(layout string) string {
	return FormatDate(r.RunDate, layout)
}

// FormatDate formats t with layout; a nil date formats as "".
func FormatDate(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.Format(layout)
}

// CoercionIssue records a cell that could not be converted and was nulled.
type CoercionIssue struct {
	Line   int    `json:"line"`
	Column string `json:"column"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// NormalizedTable is the validated, typed view of one feed download.
// It is built once per refresh and must not be modified afterwards.
type NormalizedTable struct {
	Schema  Schema
	Columns []string
	Rows    []NormalizedRow
	// Skipped counts malformed source lines dropped by the parser.
	Skipped int
	// Dropped counts well-formed lines discarded for an empty fixture.
	Dropped int
	Issues  []CoercionIssue
}

func (t *NormalizedTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// CacheEntry is the single cached result of a successful pipeline run.
type CacheEntry struct {
	Table     *NormalizedTable
	CreatedAt time.Time
	Token     int64
	RunID     string
}

// Age reports how old the entry is at now.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// ChartPoint is one bar of the outcome probability chart.
type ChartPoint struct {
	Outcome     string   `json:"outcome"`
	Probability *float64 `json:"probability"`
	Source      string   `json:"source"`
}

package models

// Column names published by the predictions feed.
const (
	ColFixture        = "Fixture"
	ColMatchDate      = "Date of match"
	ColHomePrediction = "Home Win Probability - Prediction"
	ColDrawPrediction = "Draw Probability - Prediction"
	ColAwayPrediction = "Away Win Probability - Prediction"
	ColHomeMarket     = "Home Win - Market Implied Probability"
	ColDrawMarket     = "Draw - Market Implied Probability"
	ColAwayMarket     = "Away Win - Market Implied Probability"
	ColHomeOdds       = "Home Win - Best Bookmaker Odds"
	ColDrawOdds       = "Draw - Best Bookmaker Odds"
	ColAwayOdds       = "Away Win- Best Bookmaker Odds" // sic: the feed has no space before the dash
	ColRunDate        = "Run date"
)

// Schema is an ordered list of required column names.
type Schema struct {
	Version string
	columns []string
}

// NewSchema copies names so later changes to the slice cannot leak in.
func NewSchema(version string, names ...string) Schema {
	cols := make([]string, len(names))
	copy(cols, names)
	return Schema{Version: version, columns: cols}
}

// FeedSchema is the contract every feed refresh is validated against.
var FeedSchema = NewSchema("v1",
	ColFixture,
	ColMatchDate,
	ColHomePrediction,
	ColDrawPrediction,
	ColAwayPrediction,
	ColHomeMarket,
	ColDrawMarket,
	ColAwayMarket,
	ColHomeOdds,
	ColDrawOdds,
	ColAwayOdds,
	ColRunDate,
)

// Columns returns a copy of the required names in declaration order.
func (s Schema) Columns() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

func (s Schema) Len() int {
	return len(s.columns)
}

// Contains reports whether name is one of the required columns.
func (s Schema) Contains(name string) bool {
	for _, c := range s.columns {
		if c == name {
			return true
		}
	}
	return false
}

// Missing returns the required names absent from columns, in schema order.
// Matching is exact: no case folding and no trimming.
func (s Schema) Missing(columns []string) []string {
	present := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		present[c] = struct{}{}
	}
	var missing []string
	for _, c := range s.columns {
		if _, ok := present[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

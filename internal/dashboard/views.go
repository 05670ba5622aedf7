package dashboard

import (
	"time"

	"fixturefeed/models"
)

// rowView is the wire form of a normalized row. Dates are sent both in the
// canonical sortable form and formatted for display.
type rowView struct {
	Fixture          string            `json:"fixture"`
	MatchDate        *string           `json:"match_date"`
	MatchDateDisplay string            `json:"match_date_display"`
	RunDate          *string           `json:"run_date"`
	RunDateDisplay   string            `json:"run_date_display"`
	HomeWinPred      *float64          `json:"home_win_prediction"`
	DrawPred         *float64          `json:"draw_prediction"`
	AwayWinPred      *float64          `json:"away_win_prediction"`
	HomeWinMarket    *float64          `json:"home_win_market"`
	DrawMarket       *float64          `json:"draw_market"`
	AwayWinMarket    *float64          `json:"away_win_market"`
	HomeWinOdds      *float64          `json:"home_win_odds"`
	DrawOdds         *float64          `json:"draw_odds"`
	AwayWinOdds      *float64          `json:"away_win_odds"`
	Line             int               `json:"line"`
	Extras           map[string]string `json:"extras,omitempty"`
}

func canonicalDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.Format(models.CanonicalDateLayout)
	return &v
}

// viewRow renders a row. The run date is shown as published, without any
// timezone shift.
func (s *Server) viewRow(r models.NormalizedRow) rowView {
	return rowView{
		Fixture:          r.Fixture,
		MatchDate:        canonicalDate(r.MatchDate),
		MatchDateDisplay: r.MatchDateDisplay(s.display.DateLayout),
		RunDate:          canonicalDate(r.RunDate),
		RunDateDisplay:   r.RunDateDisplay(s.display.DateLayout),
		HomeWinPred:      r.HomeWinPrediction,
		DrawPred:         r.DrawPrediction,
		AwayWinPred:      r.AwayWinPrediction,
		HomeWinMarket:    r.HomeWinMarket,
		DrawMarket:       r.DrawMarket,
		AwayWinMarket:    r.AwayWinMarket,
		HomeWinOdds:      r.HomeWinOdds,
		DrawOdds:         r.DrawOdds,
		AwayWinOdds:      r.AwayWinOdds,
		Line:             r.Line,
		Extras:           r.Extras,
	}
}

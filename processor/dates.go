package processor

import (
	"fmt"
	"strings"
	"time"
)

var dateLayouts = []string{
	"2-1-2006",
	"2-1-06",
	"2/1/2006",
	"2/1/06",
	"2.1.2006",
	"2.1.06",
	"2006-01-02",
	"2 Jan 2006",
	"2 January 2006",
}

var timeSuffixes = []string{"", " 15:04", " 15:04:05"}

var extraLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseDayFirst parses s as a calendar date written day before month.
// "01-02-25" is the first of February 2025. Two digit years follow the
// time package rule: 69-99 map to the 1900s, 00-68 to the 2000s.
// An optional hh:mm or hh:mm:ss suffix is accepted.
func ParseDayFirst(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		for _, suffix := range timeSuffixes {
			if t, err := time.Parse(layout+suffix, s); err == nil {
				return t, nil
			}
		}
	}
	for _, layout := range extraLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

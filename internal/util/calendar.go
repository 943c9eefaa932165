package util

import (
	"time"
)

type session struct {
	open, close int // minutes after midnight
}

// A-share continuous trading sessions.
var cnSessions = []session{
	{open: 9*60 + 30, close: 11*60 + 30},
	{open: 13 * 60, close: 15 * 60},
}

// TradingCalendar provides market-hours awareness for the Shanghai and
// Shenzhen exchanges. Exchange holidays are not modelled; weekdays are
// treated as trading days.
type TradingCalendar struct {
	loc *time.Location
}

// NewTradingCalendar creates a TradingCalendar evaluating times in loc,
// which should be China Standard Time.
func NewTradingCalendar(loc *time.Location) *TradingCalendar {
	if loc == nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return &TradingCalendar{loc: loc}
}

// IsMarketOpen returns whether a continuous trading session is in progress
// at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	t = t.In(tc.loc)
	if !isWeekday(t) {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	for _, s := range cnSessions {
		if m >= s.open && m < s.close {
			return true
		}
	}
	return false
}

// NextOpen returns the next session open at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	return tc.next(t, func(s session) int { return s.open })
}

// NextClose returns the next session close at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	return tc.next(t, func(s session) int { return s.close })
}

func (tc *TradingCalendar) next(t time.Time, edge func(session) int) time.Time {
	t = t.In(tc.loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, tc.loc)
	for i := 0; i < 8; i++ {
		d := day.AddDate(0, 0, i)
		if !isWeekday(d) {
			continue
		}
		for _, s := range cnSessions {
			at := d.Add(time.Duration(edge(s)) * time.Minute)
			if !at.Before(t) {
				return at
			}
		}
	}
	return time.Time{}
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

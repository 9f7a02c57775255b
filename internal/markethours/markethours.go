// Package markethours describes the daily trading session that live
// breakout alerts are confined to.
package markethours

import (
	"fmt"
	"strings"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Session is a weekday trading window in a fixed location. Open and Close
// are offsets from local midnight; Close is exclusive.
type Session struct {
	Loc      *time.Location
	Open     time.Duration
	Close    time.Duration
	Holidays map[string]bool // "2006-01-02" in Loc
}

// NSE returns the 09:15-15:30 IST cash session with the exchange holidays.
func NSE() Session {
	return Session{
		Loc:      IST,
		Open:     9*time.Hour + 15*time.Minute,
		Close:    15*time.Hour + 30*time.Minute,
		Holidays: nseHolidays(),
	}
}

// Parse reads "nse" or an "HH:MM-HH:MM" window in IST. The explicit form
// keeps the NSE holiday list.
func Parse(s string) (Session, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	sess := NSE()
	if s == "" || s == "nse" {
		return sess, nil
	}
	open, shut, ok := strings.Cut(s, "-")
	if !ok {
		return Session{}, fmt.Errorf("markethours: session %q: want HH:MM-HH:MM", s)
	}
	o, err := clock(open)
	if err != nil {
		return Session{}, err
	}
	c, err := clock(shut)
	if err != nil {
		return Session{}, err
	}
	if c <= o {
		return Session{}, fmt.Errorf("markethours: session %q closes before it opens", s)
	}
	sess.Open, sess.Close = o, c
	return sess, nil
}

func clock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("markethours: bad clock %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (s Session) midnight(t time.Time) time.Time {
	l := t.In(s.Loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, s.Loc)
}

// TradingDay reports whether t falls on a weekday that is not a holiday.
func (s Session) TradingDay(t time.Time) bool {
	l := t.In(s.Loc)
	if wd := l.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !s.Holidays[l.Format("2006-01-02")]
}

// Contains reports whether t is inside the session.
func (s Session) Contains(t time.Time) bool {
	if !s.TradingDay(t) {
		return false
	}
	off := t.Sub(s.midnight(t))
	return off >= s.Open && off < s.Close
}

// NextOpen returns the first session open strictly after t.
func (s Session) NextOpen(t time.Time) time.Time {
	day := s.midnight(t)
	for i := 0; i < 15; i++ {
		open := day.Add(s.Open)
		if open.After(t) && s.TradingDay(open) {
			return open
		}
		day = day.AddDate(0, 0, 1)
	}
	return day.Add(s.Open)
}

// Status returns a one-line description for startup logs.
func (s Session) Status(t time.Time) string {
	if s.Contains(t) {
		return fmt.Sprintf("session open, closes in %s", fmtDur(s.midnight(t).Add(s.Close).Sub(t)))
	}
	next := s.NextOpen(t)
	l := next.In(s.Loc)
	return fmt.Sprintf("session closed, opens %s %s (%s)",
		l.Weekday().String()[:3], l.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

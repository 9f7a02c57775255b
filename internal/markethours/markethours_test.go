package markethours

import (
	"strings"
	"testing"
	"time"
)

func ist(day, clock string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", day+" "+clock, IST)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNSE_Contains(t *testing.T) {
	s := NSE()
	cases := []struct {
		at   time.Time
		want bool
	}{
		{ist("2026-10-01", "09:14"), false},
		{ist("2026-10-01", "09:15"), true},
		{ist("2026-10-01", "15:29"), true},
		{ist("2026-10-01", "15:30"), false},
		{ist("2026-10-02", "11:00"), false}, // Gandhi Jayanti
		{ist("2026-10-03", "11:00"), false}, // Saturday
		{ist("2026-10-01", "09:15").UTC(), true},
	}
	for _, tc := range cases {
		if got := s.Contains(tc.at); got != tc.want {
			t.Errorf("Contains(%s) = %v, want %v", tc.at, got, tc.want)
		}
	}
}

func TestNSE_NextOpenSkipsHolidayAndWeekend(t *testing.T) {
	s := NSE()
	got := s.NextOpen(ist("2026-10-01", "16:00"))
	if want := ist("2026-10-05", "09:15"); !got.Equal(want) {
		t.Errorf("NextOpen = %s, want %s", got, want)
	}
	if got := s.NextOpen(ist("2026-10-01", "08:00")); !got.Equal(ist("2026-10-01", "09:15")) {
		t.Errorf("same-day NextOpen = %s", got)
	}
	if got := s.NextOpen(ist("2026-10-01", "09:15")); !got.Equal(ist("2026-10-05", "09:15")) {
		t.Errorf("NextOpen at the open = %s", got)
	}
}

func TestStatus(t *testing.T) {
	s := NSE()
	if got := s.Status(ist("2026-10-01", "14:00")); got != "session open, closes in 1h30m" {
		t.Errorf("open status = %q", got)
	}
	if got := s.Status(ist("2026-10-01", "16:00")); !strings.HasPrefix(got, "session closed, opens Mon 09:15") {
		t.Errorf("closed status = %q", got)
	}
}

func TestParse(t *testing.T) {
	s, err := Parse("10:00-11:30")
	if err != nil {
		t.Fatal(err)
	}
	if !s.Contains(ist("2026-10-01", "10:00")) || s.Contains(ist("2026-10-01", "11:30")) {
		t.Error("custom window bounds")
	}
	if s.Contains(ist("2026-10-02", "10:30")) {
		t.Error("custom window lost the holiday list")
	}
	if s, err := Parse(" NSE "); err != nil || s.Open != 9*time.Hour+15*time.Minute {
		t.Errorf("nse = %+v, %v", s, err)
	}
	for _, bad := range []string{"10:00", "25:00-26:00", "11:00-10:00"} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) accepted", bad)
		}
	}
}

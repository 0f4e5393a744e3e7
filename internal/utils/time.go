package utils

import (
	"strings"
	"time"

	_ "time/tzdata"

	"github.com/go-universal/jalaali"
)

const (
	CalendarGregorian = "gregorian"
	CalendarJalali    = "jalali"
)

// LoadLocation resolves an IANA zone name; empty means UTC.
// Tehran goes through the jalaali helper so minimal systems agree with it.
func LoadLocation(name string) (*time.Location, error) {
	switch strings.TrimSpace(name) {
	case "", "UTC":
		return time.UTC, nil
	case "Asia/Tehran":
		return jalaali.TehranTz(), nil
	}
	return time.LoadLocation(name)
}

// FormatTimestamp renders t in loc, e.g. "2024-03-01 15:30 UTC" or,
// for the Jalali calendar, "1402/12/11 - 15:30".
func FormatTimestamp(t time.Time, loc *time.Location, calendar string) string {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	if calendar == CalendarJalali {
		return jalaali.New(t).Format("2006/01/02 - 15:04")
	}
	return t.Format("2006-01-02 15:04 MST")
}

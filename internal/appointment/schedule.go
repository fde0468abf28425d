package appointment

import (
	"fmt"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"

	// TimestampLayout is the wire form of StartTime/EndTime: date + "T" + HH:MM + ":00.000".
	TimestampLayout = "2006-01-02T15:04:05.000"
)

// ParseDate parses a YYYY-MM-DD calendar day into naive midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Message: "must be a valid YYYY-MM-DD date"}
	}
	return d, nil
}

// composeTimestamp joins a calendar day with a zero-padded HH:MM clock value.
func composeTimestamp(date time.Time, clock, field string) (time.Time, error) {
	// time.Parse accepts "9:00" for 15:04; lexical order needs the padded form.
	if len(clock) != len(clockLayout) {
		return time.Time{}, &ValidationError{Field: field, Message: "must be a zero-padded HH:MM time"}
	}
	ts, err := time.ParseInLocation(TimestampLayout, fmt.Sprintf("%sT%s:00.000", date.Format(dateLayout), clock), time.UTC)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Message: "must be a zero-padded HH:MM time"}
	}
	return ts, nil
}

// resolveSchedule builds the date and interval of an appointment and checks
// that the interval is not empty or inverted.
func resolveSchedule(date, start, end string) (day, startAt, endAt time.Time, err error) {
	day, err = ParseDate(date)
	if err != nil {
		return
	}
	if startAt, err = composeTimestamp(day, start, "startTime"); err != nil {
		return
	}
	if endAt, err = composeTimestamp(day, end, "endTime"); err != nil {
		return
	}
	if !startAt.Before(endAt) {
		err = &ValidationError{Field: "endTime", Message: "must be after startTime"}
	}
	return
}

// FormatTimestamp renders a stored instant in the wire layout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// FormatDate renders a stored calendar day.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// todayBounds returns naive midnights for the local calendar day of now and
// the day after.
func todayBounds(now time.Time) (time.Time, time.Time) {
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

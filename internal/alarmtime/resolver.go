// Package alarmtime converts the time expressions a backend sends with an
// alarm into the local hour, minute and optional weekday a device alarm needs.
package alarmtime

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	// Target zones must resolve even on hosts without a zoneinfo database.
	_ "time/tzdata"
)

// ErrInvalid is returned when no supported format matches the input.
var ErrInvalid = errors.New("invalid alarm time")

// Time is a resolved alarm time. Weekday follows the device alarm convention
// Sunday=1 .. Saturday=7; zero means no weekday, i.e. a non-repeating alarm.
type Time struct {
	Hour    int
	Minute  int
	Weekday int
}

// HasWeekday reports whether the alarm is bound to a day of the week.
func (t Time) HasWeekday() bool {
	return t.Weekday != 0
}

func (t Time) String() string {
	if !t.HasWeekday() {
		return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
	}
	return fmt.Sprintf("%02d:%02d %s", t.Hour, t.Minute, time.Weekday(t.Weekday-1))
}

// Offset-aware ISO-8601 layouts, tried in order.
var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05Z07",
	"2006-01-02T15:04:05 Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 Z07:00",
	"2006-01-02T15:04Z07:00",
}

// Informal 12-hour layouts. Input is upper-cased before matching.
var twelveHourLayouts = []string{
	"3:04 PM",
	"3:04PM",
}

const (
	utcPrefixLen    = len("2006-01-02T15:04:05")
	utcPrefixLayout = "2006-01-02T15:04:05"
)

// errHasOffset keeps the UTC fallback from reinterpreting a timestamp whose
// offset the offset-aware step could not read.
var errHasOffset = errors.New("timestamp carries an offset")

// Resolver resolves alarm time expressions.
type Resolver struct {
	target  *time.Location
	ambient *time.Location
	logger  *slog.Logger
}

// NewResolver returns a resolver that converts absolute timestamps into
// target. Informal clock times are read in ambient, the device's own zone.
// Nil locations default to UTC and time.Local respectively.
func NewResolver(target, ambient *time.Location, logger *slog.Logger) *Resolver {
	if target == nil {
		target = time.UTC
	}
	if ambient == nil {
		ambient = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{target: target, ambient: ambient, logger: logger}
}

// Target returns the zone absolute timestamps are converted into.
func (r *Resolver) Target() *time.Location {
	return r.target
}

type step struct {
	name  string
	parse func(string) (Time, error)
}

// Resolve tries, in order: an ISO-8601 timestamp with an explicit offset, the
// first 19 characters of an ISO timestamp read as UTC, an informal 12-hour
// "h:mm am/pm" time and a 24-hour "HH:mm" time. The first match wins.
// Every failed step is logged at debug level.
func (r *Resolver) Resolve(raw string) (Time, error) {
	s := strings.TrimSpace(raw)
	steps := []step{
		{name: "iso_offset", parse: r.parseOffset},
		{name: "iso_utc_prefix", parse: r.parseUTCPrefix},
		{name: "twelve_hour", parse: r.parseTwelveHour},
		{name: "twenty_four_hour", parse: parseTwentyFourHour},
	}

	for _, st := range steps {
		t, err := st.parse(s)
		if err == nil {
			r.logger.Debug("alarm time resolved", "input", raw, "step", st.name, "time", t.String())
			return t, nil
		}
		r.logger.Debug("alarm time step failed", "input", raw, "step", st.name, "error", err)
	}

	return Time{}, fmt.Errorf("%w: %q", ErrInvalid, raw)
}

func (r *Resolver) parseOffset(s string) (Time, error) {
	s = stripZoneID(s)
	var lastErr error
	for _, layout := range offsetLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return r.fromInstant(ts), nil
		}
		lastErr = err
	}
	return Time{}, lastErr
}

// stripZoneID drops a bracketed region suffix such as "[Asia/Manila]" that
// follows an explicit offset.
func stripZoneID(s string) string {
	if !strings.HasSuffix(s, "]") {
		return s
	}
	if i := strings.LastIndexByte(s, '['); i > 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// parseUTCPrefix handles timestamps that arrive without an offset, or with a
// trailing part that does not parse, by reading the date and time as UTC.
// Input that carries an offset is rejected here.
func (r *Resolver) parseUTCPrefix(s string) (Time, error) {
	if len(s) < utcPrefixLen {
		return Time{}, fmt.Errorf("shorter than %d characters", utcPrefixLen)
	}
	if hasOffsetSuffix(s[utcPrefixLen:]) {
		return Time{}, errHasOffset
	}
	prefix := []byte(s[:utcPrefixLen])
	if prefix[10] == ' ' {
		prefix[10] = 'T'
	}
	ts, err := time.ParseInLocation(utcPrefixLayout, string(prefix), time.UTC)
	if err != nil {
		return Time{}, err
	}
	return r.fromInstant(ts), nil
}

func (r *Resolver) fromInstant(ts time.Time) Time {
	local := ts.In(r.target)
	return Time{
		Hour:    local.Hour(),
		Minute:  local.Minute(),
		Weekday: DeviceWeekday(local.Weekday()),
	}
}

func (r *Resolver) parseTwelveHour(s string) (Time, error) {
	s = strings.ToUpper(strings.Join(strings.Fields(s), " "))
	s = strings.ReplaceAll(strings.ReplaceAll(s, "A.M.", "AM"), "P.M.", "PM")

	var lastErr error
	for _, layout := range twelveHourLayouts {
		ts, err := time.ParseInLocation(layout, s, r.ambient)
		if err == nil {
			return Time{Hour: ts.Hour(), Minute: ts.Minute()}, nil
		}
		lastErr = err
	}
	return Time{}, lastErr
}

// hasOffsetSuffix reports whether rest, the text after the seconds field,
// starts with a zone offset once fractional seconds and spaces are skipped.
func hasOffsetSuffix(rest string) bool {
	if strings.HasPrefix(rest, ".") {
		rest = strings.TrimLeft(rest[1:], "0123456789")
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return false
	}
	switch rest[0] {
	case '+', '-', 'Z', 'z', '[':
		return true
	}
	return false
}

// parseTwentyFourHour accepts "H:m" with one or two digits per field.
func parseTwentyFourHour(s string) (Time, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return Time{}, fmt.Errorf("%q: missing colon", s)
	}
	hour, err := clockField(h, 23)
	if err != nil {
		return Time{}, fmt.Errorf("hour: %w", err)
	}
	minute, err := clockField(m, 59)
	if err != nil {
		return Time{}, fmt.Errorf("minute: %w", err)
	}
	return Time{Hour: hour, Minute: minute}, nil
}

func clockField(s string, limit int) (int, error) {
	if len(s) == 0 || len(s) > 2 || strings.Trim(s, "0123456789") != "" {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n > limit {
		return 0, fmt.Errorf("%d out of range 0..%d", n, limit)
	}
	return n, nil
}

// DeviceWeekday maps a weekday to the device's Sunday=1 numbering. In ISO
// terms: Sunday (7) becomes 1 and every other day d becomes d+1.
func DeviceWeekday(wd time.Weekday) int {
	return int(wd) + 1
}

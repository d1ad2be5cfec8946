// Package alerttime converts camera alert timestamps into snapshot query timestamps.
package alerttime

import (
	"fmt"
	"strings"
	"time"
)

// Layout is the query timestamp format sent to the snapshot provider.
const Layout = "2006-01-02T15:04:05Z"

// Parse reads an alert timestamp and returns it in UTC at second precision.
// Meraki: 2021-04-23T08:00:00.123456Z
// Bare:   2021-04-23T08:00:00 (read as UTC)
func Parse(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("alerttime: empty timestamp")
	}

	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC().Truncate(time.Second), nil
	}

	// Zoneless forms, optionally with sub-seconds
	clean := strings.TrimSuffix(raw, "Z")
	clean = strings.Split(clean, ".")[0]
	if t, err := time.Parse("2006-01-02T15:04:05", clean); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", clean); err == nil {
		return t.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("alerttime: unrecognized timestamp %q", raw)
}

// Add offsets t by d, keeping UTC second precision.
func Add(t time.Time, d time.Duration) time.Time {
	return t.Add(d).UTC().Truncate(time.Second)
}

func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Offset parses raw, adds d and formats the result.
func Offset(raw string, d time.Duration) (string, error) {
	t, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return Format(Add(t, d)), nil
}

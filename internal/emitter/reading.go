// Package emitter writes decoded heart rate readings as line records.
//
// Every record is flushed to the underlying writer as soon as it is written
// so downstream consumers see readings in real time. Three record formats are
// supported:
//
//	json  {"timestamp":"2024-01-01T00:00:00.0000000Z","bpm":75}
//	text  2024-01-01T00:00:00.0000000Z  75 bpm
//	csv   2024-01-01T00:00:00.0000000Z,75
package emitter

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout renders an instant in UTC with seven fractional digits and
// the Z designator.
const TimestampLayout = "2006-01-02T15:04:05.0000000Z07:00"

// Reading is a single decoded heart rate value and the instant it was decoded.
type Reading struct {
	Timestamp time.Time
	BPM       uint16
	// Address identifies the source peripheral. It is not part of the record.
	Address string
}

// NewReading returns a reading with ts normalized to UTC.
func NewReading(ts time.Time, bpm uint16, address string) Reading {
	return Reading{Timestamp: ts.UTC(), BPM: bpm, Address: address}
}

// FormatTimestamp renders ts with TimestampLayout.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

// Format selects the record layout.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a format name. An empty name selects FormatJSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatText, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected json, text or csv)", s)
	}
}

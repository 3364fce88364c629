package emitter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fatih/color"
)

// jsonRecord fixes the key order of the JSON record.
type jsonRecord struct {
	Timestamp string `json:"timestamp"`
	BPM       uint16 `json:"bpm"`
}

// Heart rate zones used to colour the text format.
const (
	restingLimit  = 100
	moderateLimit = 150
)

type encoder struct {
	format   Format
	resting  *color.Color
	moderate *color.Color
	high     *color.Color
}

func newEncoder(format Format, colorize bool) *encoder {
	e := &encoder{
		format:   format,
		resting:  color.New(color.FgGreen),
		moderate: color.New(color.FgYellow),
		high:     color.New(color.FgRed, color.Bold),
	}
	for _, c := range []*color.Color{e.resting, e.moderate, e.high} {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return e
}

// encode renders r as one newline-terminated record.
func (e *encoder) encode(r Reading) ([]byte, error) {
	ts := FormatTimestamp(r.Timestamp)

	switch e.format {
	case FormatText:
		return []byte(fmt.Sprintf("%s  %s bpm\n", ts, e.zone(r.BPM).Sprint(r.BPM))), nil
	case FormatCSV:
		return encodeCSV(ts, r.BPM)
	default:
		b, err := json.Marshal(jsonRecord{Timestamp: ts, BPM: r.BPM})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal reading: %w", err)
		}
		return append(b, '\n'), nil
	}
}

func (e *encoder) zone(bpm uint16) *color.Color {
	switch {
	case bpm < restingLimit:
		return e.resting
	case bpm < moderateLimit:
		return e.moderate
	default:
		return e.high
	}
}

func encodeCSV(ts string, bpm uint16) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{ts, strconv.FormatUint(uint64(bpm), 10)}); err != nil {
		return nil, fmt.Errorf("failed to encode csv record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode csv record: %w", err)
	}
	return buf.Bytes(), nil
}

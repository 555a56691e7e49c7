package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

var requiredColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// LoadCSV reads an OHLCV file with a header row naming at least
// timestamp, open, high, low, close and volume (any order, case-insensitive).
func LoadCSV(path, symbol string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open price file %s: %w", path, err)
	}
	defer f.Close()

	series, err := ReadCSV(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to read price file %s: %w", path, err)
	}
	return series, nil
}

// ReadCSV parses OHLCV rows from r
func ReadCSV(r io.Reader, symbol string) (*Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["timestamp"]; !ok {
		if i, ok := cols["date"]; ok {
			cols["timestamp"] = i
		}
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}

	var bars []Bar
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		bar, err := parseRecord(record, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}

	return NewSeries(symbol, bars)
}

func parseRecord(record []string, cols map[string]int) (Bar, error) {
	ts, err := parseTimestamp(record[cols["timestamp"]])
	if err != nil {
		return Bar{}, err
	}

	values := make(map[string]float64, 5)
	for _, name := range requiredColumns[1:] {
		raw := strings.TrimSpace(record[cols[name]])
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Bar{}, fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		values[name] = v
	}

	return Bar{
		Time:   ts,
		Open:   values["open"],
		High:   values["high"],
		Low:    values["low"],
		Close:  values["close"],
		Volume: values["volume"],
	}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// millisecond epochs are 13 digits
		if secs > 1e12 {
			return time.UnixMilli(secs).UTC(), nil
		}
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

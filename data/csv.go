package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/backsim/market"
)

// LoadBarsCSV reads one bar series from a CSV file with columns
// time,open,high,low,close,volume. Time is RFC3339 or
// "2006-01-02 15:04:05" (taken as UTC). A header row is skipped when
// the first field is not parseable as a time.
func LoadBarsCSV(path string) ([]market.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bar file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6
	r.TrimLeadingSpace = true

	var bars []market.Bar
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		line++

		ts, err := parseBarTime(rec[0])
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}

		bar := market.Bar{Time: ts}
		for i, dst := range []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume} {
			v, err := decimal.NewFromString(strings.TrimSpace(rec[i+1]))
			if err != nil {
				return nil, fmt.Errorf("%s line %d field %d: %w", path, line, i+1, err)
			}
			*dst = v
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w: no bars", path, ErrConfiguration)
	}
	return bars, nil
}

func parseBarTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unparseable bar time %q", s)
}

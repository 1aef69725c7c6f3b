package pricing

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// Record is the wire shape of a price feed entry:
//
//	{"currency": "ETH", "price": 1645.93, "date": "2023-08-29T07:10:52.000Z"}
type Record struct {
	Currency string  `json:"currency"`
	Price    float64 `json:"price"`
	Date     string  `json:"date"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Observation converts the record. ok is false for a record that cannot be
// priced (blank currency, non-finite price). An unparseable date yields the
// zero time, so any dated observation of the same asset supersedes it.
func (r Record) Observation() (Observation, bool) {
	asset := strings.TrimSpace(r.Currency)
	if asset == "" || math.IsNaN(r.Price) || math.IsInf(r.Price, 0) {
		return Observation{}, false
	}
	return Observation{Asset: asset, Price: r.Price, ObservedAt: parseDate(r.Date)}, true
}

// ParseRecords decodes a JSON array of records and converts every usable
// entry into an Observation, preserving input order.
func ParseRecords(r io.Reader) ([]Observation, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("pricing: decode records: %w", err)
	}
	return Observations(records), nil
}

// Observations converts records, skipping the unusable ones.
func Observations(records []Record) []Observation {
	out := make([]Observation, 0, len(records))
	for _, rec := range records {
		if o, ok := rec.Observation(); ok {
			out = append(out, o)
		}
	}
	return out
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// RecordOf is the inverse of Record.Observation. A zero ObservedAt encodes
// as an empty date.
func RecordOf(o Observation) Record {
	rec := Record{Currency: o.Asset, Price: o.Price}
	if !o.ObservedAt.IsZero() {
		rec.Date = o.ObservedAt.UTC().Format(time.RFC3339Nano)
	}
	return rec
}

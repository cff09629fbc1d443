// Package models provides the normalized data model shared by all
// provider integrations. Raw provider payloads never leave their
// provider package; everything downstream sees GlucoseRecord.
package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// recordNamespace seeds deterministic record IDs. Changing it changes
// every generated ID, so it is fixed for the lifetime of the project.
var recordNamespace = uuid.MustParse("8f14b7a2-6c1d-4f6e-9d3a-2e5b8c901d44")

// Trend describes the glucose rate-of-change reported by a CGM.
type Trend string

const (
	TrendNone          Trend = "none"
	TrendDoubleUp      Trend = "double_up"
	TrendSingleUp      Trend = "single_up"
	TrendFortyFiveUp   Trend = "forty_five_up"
	TrendFlat          Trend = "flat"
	TrendFortyFiveDown Trend = "forty_five_down"
	TrendSingleDown    Trend = "single_down"
	TrendDoubleDown    Trend = "double_down"
	TrendNotComputable Trend = "not_computable"
)

// GlucoseRecord is a single normalized reading or therapy event.
type GlucoseRecord struct {
	// ID is deterministic for a given source and timestamp, enabling
	// idempotent de-duplication downstream.
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Value     float64        `json:"value"` // mg/dL for glucose, grams for carbs, units for insulin
	Trend     Trend          `json:"trend,omitempty"`
	Source    string         `json:"source"`
	Raw       map[string]any `json:"raw,omitempty"`
}

// NewGlucoseRecord builds a record with its deterministic ID populated.
// Timestamps are normalized to UTC before the ID is derived.
func NewGlucoseRecord(source string, ts time.Time, value float64, trend Trend) GlucoseRecord {
	ts = ts.UTC()
	return GlucoseRecord{
		ID:        RecordID(source, ts),
		Timestamp: ts,
		Value:     value,
		Trend:     trend,
		Source:    source,
	}
}

// RecordID derives the deterministic ID for a source and timestamp.
func RecordID(source string, ts time.Time) string {
	return uuid.NewSHA1(recordNamespace, []byte(source+"|"+ts.UTC().Format(time.RFC3339Nano))).String()
}

// SortAscending orders records by timestamp, oldest first. The sort is
// stable so records sharing a timestamp keep their arrival order.
func SortAscending(records []GlucoseRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}

// FilterAfter returns the records strictly after the watermark.
func FilterAfter(records []GlucoseRecord, since time.Time) []GlucoseRecord {
	filtered := make([]GlucoseRecord, 0, len(records))
	for _, r := range records {
		if r.Timestamp.After(since) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Latest returns the largest timestamp in the batch, or the zero time
// for an empty batch.
func Latest(records []GlucoseRecord) time.Time {
	var latest time.Time
	for _, r := range records {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	return latest
}

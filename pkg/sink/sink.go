// Package sink provides destinations for normalized records. The
// memory sink backs tests and dry runs; the ClickHouse sink is the
// production destination.
package sink

import (
	"context"
	"sync"

	"github.com/glucosync/glucosync/pkg/models"
)

// MemorySink buffers emitted records in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []models.GlucoseRecord
}

// NewMemorySink creates an empty memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit appends the batch to the buffer.
func (m *MemorySink) Emit(ctx context.Context, records []models.GlucoseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

// Records returns a copy of everything emitted so far.
func (m *MemorySink) Records() []models.GlucoseRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.GlucoseRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Len returns the number of buffered records.
func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Close is a no-op.
func (m *MemorySink) Close() error { return nil }

package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	CyclesStarted       int64
	CyclesSucceeded     int64
	CyclesFailed        int64
	CyclesSkipped       int64
	ItemsFetched        int64
	SourcesFailed       int64
	DuplicatesFiltered  int64
	SeenFiltered        int64
	ItemsEnriched       int64
	ExtractionsDegraded int64
	DigestsSent         int64
	DeliveryFailures    int64
	MembersRegistered   int64

	// Timings
	LastProcessingTime    time.Duration
	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration
	ProcessingCount       int64

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = New()

func New() *Metrics { return &Metrics{IsHealthy: true} }

func (m *Metrics) add(field *int64, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*field += int64(n)
}

func (m *Metrics) IncrementCyclesStarted() { m.add(&m.CyclesStarted, 1) }
func (m *Metrics) IncrementCyclesSkipped() { m.add(&m.CyclesSkipped, 1) }
func (m *Metrics) AddItemsFetched(n int) { m.add(&m.ItemsFetched, n) }
func (m *Metrics) IncrementSourcesFailed() { m.add(&m.SourcesFailed, 1) }
func (m *Metrics) AddDuplicatesFiltered(n int) { m.add(&m.DuplicatesFiltered, n) }
func (m *Metrics) AddSeenFiltered(n int) { m.add(&m.SeenFiltered, n) }
func (m *Metrics) IncrementItemsEnriched() { m.add(&m.ItemsEnriched, 1) }
func (m *Metrics) IncrementDegraded() { m.add(&m.ExtractionsDegraded, 1) }
func (m *Metrics) IncrementDigestsSent() { m.add(&m.DigestsSent, 1) }
func (m *Metrics) IncrementDeliveryFailures() { m.add(&m.DeliveryFailures, 1) }
func (m *Metrics) IncrementMembersRegistered() { m.add(&m.MembersRegistered, 1) }

func (m *Metrics) RecordProcessingTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastProcessingTime = duration
	m.TotalProcessingTime += duration
	m.ProcessingCount++

	if m.ProcessingCount > 0 {
		m.AverageProcessingTime = m.TotalProcessingTime / time.Duration(m.ProcessingCount)
	}
}

// SetLastRun records a successful cycle.
func (m *Metrics) SetLastRun(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CyclesSucceeded++
	m.LastRunTime = at
	m.IsHealthy = true
}

// SetError records a failed cycle.
func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CyclesFailed++
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"cycles_started":             m.CyclesStarted,
		"cycles_succeeded":           m.CyclesSucceeded,
		"cycles_failed":              m.CyclesFailed,
		"cycles_skipped":             m.CyclesSkipped,
		"items_fetched":              m.ItemsFetched,
		"sources_failed":             m.SourcesFailed,
		"duplicates_filtered":        m.DuplicatesFiltered,
		"seen_filtered":              m.SeenFiltered,
		"items_enriched":             m.ItemsEnriched,
		"extractions_degraded":       m.ExtractionsDegraded,
		"digests_sent":               m.DigestsSent,
		"delivery_failures":          m.DeliveryFailures,
		"members_registered":         m.MembersRegistered,
		"last_processing_time_ms":    m.LastProcessingTime.Milliseconds(),
		"average_processing_time_ms": m.AverageProcessingTime.Milliseconds(),
		"last_run_time":              formatTime(m.LastRunTime),
		"last_error_time":            formatTime(m.LastErrorTime),
		"last_error":                 m.LastError,
		"is_healthy":                 m.IsHealthy,
	}
}

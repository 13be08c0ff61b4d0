// Package telemetry collects local search metrics: query mix, frequent
// terms, zero-result queries, and latency distribution. Everything stays
// on the machine; aggregates are flushed into the shared SQLite database.
package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryType classifies which search path served a query.
type QueryType string

const (
	QueryTypeVector  QueryType = "vector"
	QueryTypeKeyword QueryType = "keyword"
	QueryTypeHybrid  QueryType = "hybrid"
)

// LatencyBucket is a histogram bucket for query latency.
type LatencyBucket string

const (
	BucketUnder10ms  LatencyBucket = "lt10ms"
	BucketUnder50ms  LatencyBucket = "lt50ms"
	BucketUnder100ms LatencyBucket = "lt100ms"
	BucketUnder500ms LatencyBucket = "lt500ms"
	BucketSlow       LatencyBucket = "gte500ms"
)

// LatencyToBucket maps a duration onto its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketUnder10ms
	case ms < 50:
		return BucketUnder50ms
	case ms < 100:
		return BucketUnder100ms
	case ms < 500:
		return BucketUnder500ms
	default:
		return BucketSlow
	}
}

// QueryEvent is one search to record.
type QueryEvent struct {
	Query       string
	Type        QueryType
	Alpha       float64
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports whether the query found nothing.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// ringBuffer is a fixed-capacity FIFO of recent values.
type ringBuffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &ringBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// add appends a value, evicting the oldest when full.
func (b *ringBuffer[T]) add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// snapshot returns the buffered values, oldest first.
func (b *ringBuffer[T]) snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
	} else {
		copy(out, b.items[b.head:])
		copy(out[b.capacity-b.head:], b.items[:b.head])
	}
	return out
}

// ExtractTerms lowercases a query and keeps words of three or more
// characters for top-term tracking.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(strings.TrimSpace(query))) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term with its observed frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is an immutable view of the collected metrics.
type Snapshot struct {
	QueryTypeCounts     map[QueryType]int64     `json:"query_type_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of zero-result queries.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Config tunes the collector.
type Config struct {
	// TopTermsCapacity bounds the tracked term set.
	TopTermsCapacity int

	// ZeroResultsCapacity bounds the zero-result query buffer.
	ZeroResultsCapacity int

	// FlushInterval is how often aggregates are written to the store.
	// Zero disables auto-flush; Flush can still be called directly.
	FlushInterval time.Duration
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
		FlushInterval:       60 * time.Second,
	}
}

// MetricsStore persists flushed aggregates.
type MetricsStore interface {
	SaveQueryTypeCounts(date string, counts map[QueryType]int64) error
	GetQueryTypeCounts(from, to string) (map[QueryType]int64, error)
	UpsertTermCounts(terms map[string]int64) error
	GetTopTerms(limit int) ([]TermCount, error)
	AddZeroResultQuery(query string, timestamp time.Time) error
	GetZeroResultQueries(limit int) ([]string, error)
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)
	Close() error
}

// QueryMetrics accumulates search telemetry in memory and periodically
// flushes aggregates to a store. Safe for concurrent use. A nil store
// keeps everything in memory.
type QueryMetrics struct {
	mu sync.RWMutex

	queryTypes      map[QueryType]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *ringBuffer[string]
	latencies       map[LatencyBucket]int64
	totalQueries    int64
	zeroResultCount int64
	startTime       time.Time

	store       MetricsStore
	config      Config
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewQueryMetrics creates a collector with default configuration.
func NewQueryMetrics(store MetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultConfig())
}

// NewQueryMetricsWithConfig creates a collector with explicit configuration.
func NewQueryMetricsWithConfig(store MetricsStore, cfg Config) *QueryMetrics {
	def := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	m := &QueryMetrics{
		queryTypes:  make(map[QueryType]int64),
		topTerms:    topTerms,
		zeroResults: newRingBuffer[string](cfg.ZeroResultsCapacity),
		latencies:   make(map[LatencyBucket]int64),
		startTime:   time.Now(),
		store:       store,
		config:      cfg,
		stopCh:      make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one query. Non-blocking; never fails the search path.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.queryTypes[event.Type]++
	m.totalQueries++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if event.IsZeroResult() {
		m.zeroResults.add(event.Query)
		m.zeroResultCount++
	}

	m.latencies[LatencyToBucket(event.Latency)]++
}

// Snapshot returns the current aggregates for reporting.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	typeCounts := make(map[QueryType]int64, len(m.queryTypes))
	for k, v := range m.queryTypes {
		typeCounts[k] = v
	}

	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(topTerms, func(i, j int) bool {
		if topTerms[i].Count != topTerms[j].Count {
			return topTerms[i].Count > topTerms[j].Count
		}
		return topTerms[i].Term < topTerms[j].Term
	})

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	return &Snapshot{
		QueryTypeCounts:     typeCounts,
		TopTerms:            topTerms,
		ZeroResultQueries:   m.zeroResults.snapshot(),
		LatencyDistribution: latencies,
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		Since:               m.startTime,
	}
}

// Flush writes the aggregates to the store and resets the in-memory
// window so repeated flushes do not double-count. After a flush the
// Snapshot covers only queries since that flush; history lives in the
// store.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	typeCounts := m.queryTypes
	m.queryTypes = make(map[QueryType]int64)
	latencies := m.latencies
	m.latencies = make(map[LatencyBucket]int64)

	termCounts := make(map[string]int64)
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			termCounts[key] = count
		}
	}
	m.topTerms.Purge()

	zeroQueries := m.zeroResults.snapshot()
	m.zeroResults = newRingBuffer[string](m.config.ZeroResultsCapacity)
	m.totalQueries = 0
	m.zeroResultCount = 0
	m.startTime = time.Now()
	m.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if err := m.store.SaveQueryTypeCounts(today, typeCounts); err != nil {
		return err
	}
	if err := m.store.UpsertTermCounts(termCounts); err != nil {
		return err
	}
	for _, q := range zeroQueries {
		if err := m.store.AddZeroResultQuery(q, time.Now()); err != nil {
			return err
		}
	}
	return m.store.SaveLatencyCounts(today, latencies)
}

// Close stops the flush loop and writes a final flush.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}
	return m.Flush()
}

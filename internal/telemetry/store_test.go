package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhcp0001/NescordBot-sub000/internal/store"
)

func newMetricsStore(t *testing.T) *SQLiteMetricsStore {
	t.Helper()
	s, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, InitTelemetrySchema(s.DB()))
	ms, err := NewSQLiteMetricsStore(s.DB())
	require.NoError(t, err)
	return ms
}

func TestSQLiteMetricsStore_TypeCountsAccumulate(t *testing.T) {
	ms := newMetricsStore(t)
	today := time.Now().Format("2006-01-02")

	// Given: two flushes on the same day
	require.NoError(t, ms.SaveQueryTypeCounts(today, map[QueryType]int64{
		QueryTypeHybrid: 2, QueryTypeKeyword: 1,
	}))
	require.NoError(t, ms.SaveQueryTypeCounts(today, map[QueryType]int64{
		QueryTypeHybrid: 3,
	}))

	// Then: counts sum instead of overwrite
	counts, err := ms.GetQueryTypeCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(5), counts[QueryTypeHybrid])
	assert.Equal(t, int64(1), counts[QueryTypeKeyword])
}

func TestSQLiteMetricsStore_TopTerms(t *testing.T) {
	ms := newMetricsStore(t)

	require.NoError(t, ms.UpsertTermCounts(map[string]int64{"alpha": 2, "beta": 5}))
	require.NoError(t, ms.UpsertTermCounts(map[string]int64{"alpha": 4}))

	terms, err := ms.GetTopTerms(10)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, TermCount{Term: "alpha", Count: 6}, terms[0])
	assert.Equal(t, TermCount{Term: "beta", Count: 5}, terms[1])
}

func TestSQLiteMetricsStore_ZeroResultRetention(t *testing.T) {
	ms := newMetricsStore(t)

	// Given: more zero-result queries than the retention window
	for i := 0; i < zeroResultRetention+5; i++ {
		require.NoError(t, ms.AddZeroResultQuery("query", time.Now()))
	}

	queries, err := ms.GetZeroResultQueries(zeroResultRetention * 2)
	require.NoError(t, err)
	assert.Len(t, queries, zeroResultRetention)
}

func TestSQLiteMetricsStore_LatencyCountsAccumulate(t *testing.T) {
	ms := newMetricsStore(t)
	today := time.Now().Format("2006-01-02")

	require.NoError(t, ms.SaveLatencyCounts(today, map[LatencyBucket]int64{BucketUnder50ms: 2}))
	require.NoError(t, ms.SaveLatencyCounts(today, map[LatencyBucket]int64{BucketUnder50ms: 1, BucketSlow: 1}))

	counts, err := ms.GetLatencyCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[BucketUnder50ms])
	assert.Equal(t, int64(1), counts[BucketSlow])
}

func TestQueryMetrics_FlushWritesAndResetsWindow(t *testing.T) {
	ms := newMetricsStore(t)
	m := NewQueryMetricsWithConfig(ms, Config{FlushInterval: 0})
	today := time.Now().Format("2006-01-02")

	m.Record(QueryEvent{Query: "alpha notes", Type: QueryTypeHybrid, ResultCount: 2, Latency: 5 * time.Millisecond})
	m.Record(QueryEvent{Query: "missing thing", Type: QueryTypeHybrid, ResultCount: 0, Latency: 15 * time.Millisecond})

	// When: flushing
	require.NoError(t, m.Flush())

	// Then: aggregates land in SQLite and the window resets
	counts, err := ms.GetQueryTypeCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[QueryTypeHybrid])

	zero, err := ms.GetZeroResultQueries(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"missing thing"}, zero)

	s := m.Snapshot()
	assert.Equal(t, int64(0), s.TotalQueries)

	// And: a second flush adds nothing
	require.NoError(t, m.Flush())
	counts, err = ms.GetQueryTypeCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[QueryTypeHybrid])

	require.NoError(t, m.Close())
}

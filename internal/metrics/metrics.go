package metrics

import "sync/atomic"

var (
	loadsSucceeded int64
	loadsFailed    int64
	rowsNormalized int64
	rowsIncomplete int64
	jobsSucceeded  int64
	jobsFailed     int64
)

func IncLoadsSucceeded() { atomic.AddInt64(&loadsSucceeded, 1) }
func IncLoadsFailed()    { atomic.AddInt64(&loadsFailed, 1) }
func IncJobsSucceeded()  { atomic.AddInt64(&jobsSucceeded, 1) }
func IncJobsFailed()     { atomic.AddInt64(&jobsFailed, 1) }

// AddRows records per-load row totals: all normalized rows and the subset
// lacking a derived timestamp.
func AddRows(normalized, incomplete int) {
	atomic.AddInt64(&rowsNormalized, int64(normalized))
	atomic.AddInt64(&rowsIncomplete, int64(incomplete))
}

func Snapshot() map[string]int64 {
	return map[string]int64{
		"loads_succeeded": atomic.LoadInt64(&loadsSucceeded),
		"loads_failed":    atomic.LoadInt64(&loadsFailed),
		"rows_normalized": atomic.LoadInt64(&rowsNormalized),
		"rows_incomplete": atomic.LoadInt64(&rowsIncomplete),
		"jobs_succeeded":  atomic.LoadInt64(&jobsSucceeded),
		"jobs_failed":     atomic.LoadInt64(&jobsFailed),
	}
}

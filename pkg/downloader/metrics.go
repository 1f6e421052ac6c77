package downloader

import "time"

// Fetch result labels reported to Metrics.
const (
	ResultSuccess     = "success"
	ResultNotModified = "not_modified"
	ResultErrored     = "errored"
	ResultCanceled    = "canceled"
)

// Metrics provides observability for the download scheduler.
//
// Implementations are optional. A nil Metrics disables collection with no
// overhead at the call sites.
type Metrics interface {
	// RecordFetch records one completed fetch with its result label and
	// total duration including retries and the store commit.
	RecordFetch(result string, duration time.Duration)

	// RecordRetry records one retry of a transient failure.
	RecordRetry()

	// RecordShared records a request that attached to an already
	// in-flight fetch instead of starting its own transfer.
	RecordShared()

	// RecordQueueDepth records the current depth of both priority queues.
	RecordQueueDepth(region, ambient int)

	// RecordInFlight records the current number of registered fetches,
	// queued and transferring.
	RecordInFlight(count int)
}

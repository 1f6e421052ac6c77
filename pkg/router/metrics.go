package router

// Metrics receives router events. A nil Metrics disables collection.
type Metrics interface {
	// RecordResolve counts one resolution by outcome: "hot", "hit",
	// "stale", "miss" or "fail_open".
	RecordResolve(outcome string)

	// RecordRevalidation counts one background revalidation by outcome:
	// "refreshed" (304), "replaced" (200) or "failed".
	RecordRevalidation(outcome string)
}

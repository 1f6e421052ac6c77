package region

// Metrics records region download activity. Implementations must be safe
// for concurrent use. A nil Metrics disables recording with zero overhead.
type Metrics interface {
	// RecordActivation counts a download pass starting.
	RecordActivation()

	// RecordTerminal counts a download pass ending in the given phase.
	RecordTerminal(phase string)

	// RecordActiveDownloads samples how many regions are downloading.
	RecordActiveDownloads(count int)
}

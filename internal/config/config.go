package config

const (
	DefaultTimeZone = "Asia/Kolkata"

	// Past this many staged rows the summary endpoint switches from the
	// in-memory reconciler to the single-pass streaming aggregation.
	StreamThresholdRows = 50000

	// Nightly refresh of the full-span summary cache.
	DefaultSummaryRefreshSchedule = "0 2 * * *"
)

package shadow

// IntervalRange overrides the subscription's negotiated max-interval
// bounds (spec §4.4 clamps to [60s, 3600s] by default).
type IntervalRange struct {
	MinSeconds uint32
	MaxSeconds uint32
}

// TestOverrides is the single injected capability the source's
// "unit-test hooks" are modeled as (spec §9): force-report-on-match,
// skip-expected-values, a subscription interval override, and
// skip-subscription entirely. Production code constructs a Device with
// the zero value, which is a no-op.
type TestOverrides struct {
	// ForceReportOnMatch is carried on TestOverrides but no component
	// reads it: clusterstore.Store.IngestBatch filters out unchanged
	// values whatever its setting.
	ForceReportOnMatch bool
	// SkipExpectedValues disables installing optimistic predictions on
	// write/invoke entirely.
	SkipExpectedValues bool
	// SubscriptionIntervalOverride, if non-nil, replaces the negotiated
	// [60s, 3600s] max-interval clamp.
	SubscriptionIntervalOverride *IntervalRange
	// SkipSubscription disables establishing a live subscription;
	// reads always fall back to read-through.
	SkipSubscription bool
}

package cyclerexport

// IntervalPresets are the offered sampling intervals in seconds
var IntervalPresets = []float64{0.1, 1, 10, 60, 300}

// RecommendInterval suggests a sampling interval for a detail export of the
// given row count. Small exports keep full fidelity.
func RecommendInterval(rows int) (float64, string) {
	switch {
	case rows <= 1000:
		return 0, "small dataset, keep every sample"
	case rows <= 10000:
		return 1, "medium dataset, 1s sampling suggested"
	case rows <= 100000:
		return 10, "large dataset, 10s sampling suggested"
	default:
		return 60, "very large dataset, 60s sampling suggested"
	}
}

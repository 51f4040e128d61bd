package evaluator

// TestMetrics holds the counts recovered from one harness run.
// Total is always Passing+Failing.
type TestMetrics struct {
	Total   int `json:"total"`
	Passing int `json:"passing"`
	Failing int `json:"failing"`
}

// PassRate returns the percentage of passing tests in [0,100].
// An empty suite is 0, not an error.
func (m TestMetrics) PassRate() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Passing) / float64(m.Total) * 100
}

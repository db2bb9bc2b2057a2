package pipeline

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"vibestyler/internal/metrics"
)

func testutilValue(t *testing.T, m *metrics.Metrics, labels ...string) float64 {
	t.Helper()
	switch labels[0] {
	case "intent":
		return testutil.ToFloat64(m.IntentTotal.WithLabelValues(labels[1:]...))
	case "stage":
		return testutil.ToFloat64(m.StageFailTotal.WithLabelValues(labels[1:]...))
	}
	t.Fatalf("unknown metric %q", labels[0])
	return 0
}

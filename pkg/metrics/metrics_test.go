package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveAnalysis(t *testing.T) {
	Register()
	Register()

	ok := Analyses.WithLabelValues(StatusOK, "calm")
	failed := Analyses.WithLabelValues(StatusError, "")
	before, beforeFailed := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	ObserveAnalysis(StatusOK, "calm", 150*time.Millisecond)
	ObserveAnalysis(StatusError, "", time.Second)

	assert.Equal(t, before+1, testutil.ToFloat64(ok))
	assert.Equal(t, beforeFailed+1, testutil.ToFloat64(failed))
	assert.Equal(t, 1, testutil.CollectAndCount(AnalysisDuration))
}

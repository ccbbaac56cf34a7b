package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func TestRequestStartTracksInFlightGauge(t *testing.T) {
	c := NewCollector()

	done := c.RequestStart()
	assert.Equal(t, float64(1), gaugeValue(t, c.inFlight))

	done()
	assert.Equal(t, float64(0), gaugeValue(t, c.inFlight))
}

func TestRecordTokensUpdatesSnapshotAndHistograms(t *testing.T) {
	c := NewCollector()

	c.RecordTokens(10, 120, 8)
	c.RecordTokens(5, 80, 6)

	snap := c.Snapshot()
	assert.Equal(t, int64(15), snap.TokensGenerated)
	assert.InDelta(t, 100, snap.AvgTTFT, 0.001)
	assert.InDelta(t, 7, snap.AvgTPOT, 0.001)

	assert.Equal(t, uint64(2), histogramCount(t, c.ttftHist))
	assert.Equal(t, uint64(2), histogramCount(t, c.tpotHist))
}

func TestCollectorsReturnsAllPrometheusSeries(t *testing.T) {
	c := NewCollector()
	assert.Len(t, c.Collectors(), 3)
}

func gaugeValue(t *testing.T, g interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func histogramCount(t *testing.T, h interface{ Write(*dto.Metric) error }) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

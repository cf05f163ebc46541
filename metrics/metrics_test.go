package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/usernamenenad/bft-benor/metrics"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("test", reg)

	m.RecordReceived(1, "P")
	m.RecordReceived(1, "P")
	m.RecordReceived(2, "V")
	m.RecordRejected(1, "duplicate")
	m.RecordBroadcast(1, "P", false)
	m.RecordBroadcast(1, "V", true)
	m.UpdateRound(1, 4)
	m.RecordDecision(1, "0", 4)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"received P", testutil.ToFloat64(m.MessagesReceived.WithLabelValues("1", "P")), 2},
		{"received V", testutil.ToFloat64(m.MessagesReceived.WithLabelValues("2", "V")), 1},
		{"rejected", testutil.ToFloat64(m.MessagesRejected.WithLabelValues("1", "duplicate")), 1},
		{"broadcasts", testutil.ToFloat64(m.BroadcastsTotal.WithLabelValues("1", "V")), 1},
		{"broadcast failures", testutil.ToFloat64(m.BroadcastFailures.WithLabelValues("1")), 1},
		{"round", testutil.ToFloat64(m.CurrentRound.WithLabelValues("1")), 4},
		{"decisions", testutil.ToFloat64(m.Decisions.WithLabelValues("1", "0")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}

	if n := testutil.CollectAndCount(m.RoundsToDecision); n != 1 {
		t.Errorf("histogram series: got %d, want 1", n)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *metrics.Metrics

	m.RecordReceived(0, "P")
	m.RecordRejected(0, "killed")
	m.RecordBroadcast(0, "V", true)
	m.UpdateRound(0, 1)
	m.RecordDecision(0, "1", 1)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewMetrics("dup", reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	metrics.NewMetrics("dup", reg)
}

package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/dim-network/station/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.Sessions == nil {
		t.Error("Sessions is nil")
	}
	if c.Delivered == nil {
		t.Error("Delivered is nil")
	}
	if c.Stored == nil {
		t.Error("Stored is nil")
	}
	if c.Dropped == nil {
		t.Error("Dropped is nil")
	}
	if c.PushQueueDepth == nil {
		t.Error("PushQueueDepth is nil")
	}
	if c.RoamingQueueDepth == nil {
		t.Error("RoamingQueueDepth is nil")
	}
	if c.BroadcastExpansions == nil {
		t.Error("BroadcastExpansions is nil")
	}

	// Verify all metrics are registered by gathering them.
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestRegisterUnregisterSession(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RegisterSession("mtp")
	if v := gaugeValue(t, c.Sessions, "mtp"); v != 1 {
		t.Errorf("after RegisterSession: sessions gauge = %v, want 1", v)
	}

	c.RegisterSession("ws")
	if v := gaugeValue(t, c.Sessions, "ws"); v != 1 {
		t.Errorf("after second RegisterSession: ws gauge = %v, want 1", v)
	}

	c.UnregisterSession("mtp")
	if v := gaugeValue(t, c.Sessions, "mtp"); v != 0 {
		t.Errorf("after UnregisterSession: mtp gauge = %v, want 0", v)
	}
	if v := gaugeValue(t, c.Sessions, "ws"); v != 1 {
		t.Errorf("ws gauge = %v, want 1 (should be unaffected)", v)
	}
}

func TestDeliveryOutcomes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncDelivered("user")
	c.IncDelivered("user")
	c.IncDelivered("bot")
	if v := counterValue(t, c.Delivered, "user"); v != 2 {
		t.Errorf("Delivered(user) = %v, want 2", v)
	}
	if v := counterValue(t, c.Delivered, "bot"); v != 1 {
		t.Errorf("Delivered(bot) = %v, want 1", v)
	}

	c.IncStored()
	c.IncStored()
	if v := counterPlainValue(t, c.Stored); v != 2 {
		t.Errorf("Stored = %v, want 2", v)
	}

	c.IncDropped("cycle")
	if v := counterValue(t, c.Dropped, "cycle"); v != 1 {
		t.Errorf("Dropped(cycle) = %v, want 1", v)
	}
}

func TestQueueDepthsAndBroadcastExpansion(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetPushQueueDepth(42)
	if v := gaugePlainValue(t, c.PushQueueDepth); v != 42 {
		t.Errorf("PushQueueDepth = %v, want 42", v)
	}

	c.SetRoamingQueueDepth(7)
	if v := gaugePlainValue(t, c.RoamingQueueDepth); v != 7 {
		t.Errorf("RoamingQueueDepth = %v, want 7", v)
	}

	c.AddBroadcastExpansion("everyone", 5)
	c.AddBroadcastExpansion("everyone", 3)
	if v := counterValue(t, c.BroadcastExpansions, "everyone"); v != 8 {
		t.Errorf("BroadcastExpansions(everyone) = %v, want 8", v)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}

func counterPlainValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugePlainValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

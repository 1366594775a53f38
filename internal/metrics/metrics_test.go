package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewWithRegistryRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegistry("test-service", reg)

	if r.HandlerInvocationsTotal == nil || r.HandlerDuration == nil ||
		r.BackpressureWait == nil || r.MaxInFlightReachedTotal == nil ||
		r.InFlight == nil || r.BreakerState == nil {
		t.Fatal("expected all collectors to be initialized")
	}
}

func TestObserveHandlerInvocationIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegistry("test-service", reg)

	r.ObserveHandlerInvocation("document_indexer", "ack", 250*time.Millisecond)

	metric := &dto.Metric{}
	if err := r.HandlerInvocationsTotal.WithLabelValues("document_indexer", "ack").Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Fatalf("expected counter value 1, got %v", metric.Counter.GetValue())
	}
}

func TestSetInFlightSetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegistry("test-service", reg)

	r.SetInFlight(7)

	metric := &dto.Metric{}
	if err := r.InFlight.Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if metric.Gauge.GetValue() != 7 {
		t.Fatalf("expected gauge value 7, got %v", metric.Gauge.GetValue())
	}
}

func TestIncMaxInFlightReachedIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegistry("test-service", reg)

	r.IncMaxInFlightReached()
	r.IncMaxInFlightReached()

	metric := &dto.Metric{}
	if err := r.MaxInFlightReachedTotal.Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Fatalf("expected counter value 2, got %v", metric.Counter.GetValue())
	}
}

func TestSetBreakerStateSetsLabeledGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegistry("test-service", reg)

	r.SetBreakerState("embedding", 1)

	metric := &dto.Metric{}
	if err := r.BreakerState.WithLabelValues("embedding").Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if metric.Gauge.GetValue() != 1 {
		t.Fatalf("expected gauge value 1, got %v", metric.Gauge.GetValue())
	}
}

package middleware

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}
	if m.httpRequestDuration == nil {
		t.Error("httpRequestDuration is nil")
	}
	if m.httpRequestsTotal == nil {
		t.Error("httpRequestsTotal is nil")
	}
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	err := m.Register(reg)
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	// Record a request so the families have entries
	m.ObserveHTTPRequest("GET", "/api/digest", "200", 0.05, 0, 512)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}

	foundDuration := false
	foundTotal := false
	for _, mf := range metrics {
		if mf.GetName() == MetricHTTPRequestDuration {
			foundDuration = true
		}
		if mf.GetName() == MetricHTTPRequestsTotal {
			foundTotal = true
		}
	}

	if !foundDuration {
		t.Errorf("metric %s not found in registry", MetricHTTPRequestDuration)
	}
	if !foundTotal {
		t.Errorf("metric %s not found in registry", MetricHTTPRequestsTotal)
	}
}

func TestMetrics_RegisterTwiceFails(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("first Register() failed: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("duplicate registration should fail")
	}
}

func TestMetrics_ObserveHTTPRequest(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	m.ObserveHTTPRequest("GET", "/api/digest", "200", 0.01, 0, 100)
	m.ObserveHTTPRequest("GET", "/api/digest", "200", 0.02, 0, 200)
	m.ObserveHTTPRequest("POST", "/api/feedback", "400", 0.01, 40, 60)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}

	var totalMetric *dto.MetricFamily
	for i := range metrics {
		if metrics[i].GetName() == MetricHTTPRequestsTotal {
			totalMetric = metrics[i]
			break
		}
	}
	if totalMetric == nil {
		t.Fatal("http_requests_total metric not found")
	}

	// Two distinct label sets
	if len(totalMetric.GetMetric()) != 2 {
		t.Fatalf("expected 2 metric entries, got %d", len(totalMetric.GetMetric()))
	}
	for _, entry := range totalMetric.GetMetric() {
		for _, label := range entry.GetLabel() {
			if label.GetName() == "path" && label.GetValue() == "/api/digest" {
				if got := entry.GetCounter().GetValue(); got != 2 {
					t.Errorf("expected 2 digest requests, got %v", got)
				}
			}
		}
	}
}

func TestMetrics_Collectors(t *testing.T) {
	m := NewMetrics()
	collectors := m.Collectors()

	if len(collectors) != 4 {
		t.Errorf("expected 4 collectors, got %d", len(collectors))
	}
}

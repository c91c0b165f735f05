package perf

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

func TestReconciliationJobThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	// Drift scans run often and finish fast.
	for i := 0; i < 60; i++ {
		tracker := metrics.Track("stock_drift_scan")
		time.Sleep(5 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending scan tracker: %v", err)
		}
	}

	// Ledger rebuilds are rarer and slower but stay within target.
	for i := 0; i < 10; i++ {
		tracker := metrics.Track("ledger_rebuild")
		time.Sleep(25 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending rebuild tracker: %v", err)
		}
	}

	// Inject a couple of failures to ensure alerts fire correctly.
	for i := 0; i < 3; i++ {
		tracker := metrics.Track("stock_drift_scan")
		time.Sleep(5 * time.Millisecond)
		if err := tracker.End(errors.New("timeout")); err == nil {
			t.Fatal("expected error to propagate")
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "meridian_jobs_total", map[string]string{"job": "stock_drift_scan", "status": "success"})
	failure := metricValue(t, families, "meridian_jobs_total", map[string]string{"job": "stock_drift_scan", "status": "failure"})
	if success+failure == 0 {
		t.Fatal("no drift scan executions recorded")
	}
	ratio := success / (success + failure)
	if ratio < 0.9 {
		t.Fatalf("drift scan success ratio too low: %f", ratio)
	}

	rebuildDuration := histogramMean(t, families, "meridian_job_duration_seconds", map[string]string{"job": "ledger_rebuild"})
	if rebuildDuration > 2.0 {
		t.Fatalf("ledger rebuild duration above target: %f", rebuildDuration)
	}

	scanDuration := histogramMean(t, families, "meridian_job_duration_seconds", map[string]string{"job": "stock_drift_scan"})
	if scanDuration > 0.5 {
		t.Fatalf("drift scan duration above target: %f", scanDuration)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok && pair.GetValue() == want {
			matched++
		}
	}
	return matched == len(labels)
}

package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit_IsIdempotentPerRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Init(reg); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := Init(reg); err != nil {
		t.Fatalf("second Init must ignore already registered collectors: %v", err)
	}
}

func TestCounters_IncrementWithLabels(t *testing.T) {
	before := testutil.ToFloat64(lineQueriesTotal.WithLabelValues("failed"))
	IncLineQuery("failed")
	if got := testutil.ToFloat64(lineQueriesTotal.WithLabelValues("failed")); got != before+1 {
		t.Fatalf("line_queries_total{failed}=%v want %v", got, before+1)
	}

	okBefore := testutil.ToFloat64(cacheOpTotal.WithLabelValues("get", "ok"))
	errBefore := testutil.ToFloat64(cacheOpTotal.WithLabelValues("get", "error"))
	ObserveCacheOp("get", nil, 0.001)
	ObserveCacheOp("get", errors.New("boom"), 0.001)
	if got := testutil.ToFloat64(cacheOpTotal.WithLabelValues("get", "ok")); got != okBefore+1 {
		t.Fatalf("cache_op_total{get,ok}=%v want %v", got, okBefore+1)
	}
	if got := testutil.ToFloat64(cacheOpTotal.WithLabelValues("get", "error")); got != errBefore+1 {
		t.Fatalf("cache_op_total{get,error}=%v want %v", got, errBefore+1)
	}
}

func TestObserveInvalidation_AddsEntries(t *testing.T) {
	before := testutil.ToFloat64(invalidatedEntries)
	ObserveInvalidation("update", 3, nil)
	ObserveInvalidation("update", 0, nil)
	if got := testutil.ToFloat64(invalidatedEntries); got != before+3 {
		t.Fatalf("invalidated entries=%v want %v", got, before+3)
	}
}

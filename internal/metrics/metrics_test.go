package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchesTotal == nil || recordsTotal == nil || batchesTotal == nil ||
		pipelineStage == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveFetch(t *testing.T) {
	before := testutil.ToFloat64(fetchesCounter(OutcomePermanent))
	ObserveFetch(OutcomePermanent, 0)
	ObserveFetch(OutcomePermanent, 0)
	if got := testutil.ToFloat64(fetchesCounter(OutcomePermanent)) - before; got != 2 {
		t.Fatalf("expected 2 permanent failures recorded, got %f", got)
	}

	bytesBefore := testutil.ToFloat64(fetchBytesTotal)
	ObserveFetch(OutcomeFetched, 128)
	if got := testutil.ToFloat64(fetchBytesTotal) - bytesBefore; got != 128 {
		t.Fatalf("expected 128 bytes recorded, got %f", got)
	}
	ObserveFetchAttempt(150 * time.Millisecond)
	ObserveRateLimitDelay(time.Second)
	if testutil.CollectAndCount(fetchDurationSeconds) != 1 {
		t.Fatal("expected fetch duration histogram to be collected")
	}
}

func TestObserveBatch(t *testing.T) {
	Init()
	acceptedBefore := testutil.ToFloat64(documentsTotal.WithLabelValues("accepted"))
	rejectedBefore := testutil.ToFloat64(documentsTotal.WithLabelValues("rejected"))

	ObserveBatch("partial", 2, 2)
	ObserveBatch("ok", 4, 0)

	if got := testutil.ToFloat64(documentsTotal.WithLabelValues("accepted")) - acceptedBefore; got != 6 {
		t.Fatalf("expected 6 accepted documents, got %f", got)
	}
	if got := testutil.ToFloat64(documentsTotal.WithLabelValues("rejected")) - rejectedBefore; got != 2 {
		t.Fatalf("expected 2 rejected documents, got %f", got)
	}
}

func TestSetStage(t *testing.T) {
	stages := []string{"idle", "fetching", "done"}
	SetStage("fetching", stages)
	if v := testutil.ToFloat64(pipelineStage.WithLabelValues("fetching")); v != 1 {
		t.Fatalf("expected fetching=1, got %f", v)
	}
	if v := testutil.ToFloat64(pipelineStage.WithLabelValues("idle")); v != 0 {
		t.Fatalf("expected idle=0, got %f", v)
	}
	SetStage("done", stages)
	if v := testutil.ToFloat64(pipelineStage.WithLabelValues("fetching")); v != 0 {
		t.Fatalf("expected fetching=0 after transition, got %f", v)
	}
}

func TestActiveWorkers(t *testing.T) {
	Init()
	before := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers) - before; got != 1 {
		t.Fatalf("expected one active worker, got %f", got)
	}
	DecActiveWorkers()
}

func fetchesCounter(outcome string) prometheus.Counter {
	Init()
	return fetchesTotal.WithLabelValues(outcome)
}

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRebuildCountsStatus(t *testing.T) {
	before := testutil.ToFloat64(RollupRebuildTotal.WithLabelValues("channel", "error"))
	ObserveRebuild("channel", time.Now(), errors.New("boom"))
	after := testutil.ToFloat64(RollupRebuildTotal.WithLabelValues("channel", "error"))
	if after-before != 1 {
		t.Fatalf("ожидали прирост 1, получили %v", after-before)
	}
}

func TestObserveNetworkRequestDefaults(t *testing.T) {
	before := testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("unknown", "unknown", "unknown", "success"))
	ObserveNetworkRequest("", "", "", time.Now(), nil)
	after := testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("unknown", "unknown", "unknown", "success"))
	if after-before != 1 {
		t.Fatalf("ожидали прирост 1, получили %v", after-before)
	}
}

func TestAddBatchOperationsIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(BatchOperationsTotal.WithLabelValues("insert", "ok"))
	AddBatchOperations("insert", "ok", 0)
	AddBatchOperations("insert", "ok", 3)
	after := testutil.ToFloat64(BatchOperationsTotal.WithLabelValues("insert", "ok"))
	if after-before != 3 {
		t.Fatalf("ожидали прирост 3, получили %v", after-before)
	}
}

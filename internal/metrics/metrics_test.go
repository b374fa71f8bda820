package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	// Reset metrics
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("GET", "/api/v1/compositions/:id", "200", 0.123)

	counter := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/compositions/:id", "200"))
	if counter != 1.0 {
		t.Errorf("Expected counter to be 1.0, got %f", counter)
	}
}

func TestRecordOverlayOperation(t *testing.T) {
	OverlayOperationsTotal.Reset()

	RecordOverlayOperation("add", nil)
	RecordOverlayOperation("add", nil)
	RecordOverlayOperation("change", errors.New("immutable field"))

	added := testutil.ToFloat64(OverlayOperationsTotal.WithLabelValues("add", "success"))
	if added != 2.0 {
		t.Errorf("Expected add counter to be 2.0, got %f", added)
	}

	failed := testutil.ToFloat64(OverlayOperationsTotal.WithLabelValues("change", "failed"))
	if failed != 1.0 {
		t.Errorf("Expected failed change counter to be 1.0, got %f", failed)
	}
}

func TestUpdateCompositions(t *testing.T) {
	UpdateCompositions(3)

	active := testutil.ToFloat64(CompositionsActive)
	if active != 3.0 {
		t.Errorf("Expected active compositions to be 3.0, got %f", active)
	}
}

func TestRecordKeyframeExtraction(t *testing.T) {
	KeyframeExtractionsTotal.Reset()

	RecordKeyframeExtraction("committed", 10, 8, 1.5)
	RecordKeyframeExtraction("insufficient_yield", 10, 3, 4.2)
	RecordKeyframeExtraction("committed", 5, 5, 0.4)

	committed := testutil.ToFloat64(KeyframeExtractionsTotal.WithLabelValues("committed"))
	if committed != 2.0 {
		t.Errorf("Expected committed extractions to be 2.0, got %f", committed)
	}

	if n := testutil.CollectAndCount(KeyframeYieldRatio); n != 1 {
		t.Errorf("Expected one yield histogram, got %d", n)
	}
}

func TestRecordKeyframeAttempt(t *testing.T) {
	KeyframeAttemptsTotal.Reset()

	RecordKeyframeAttempt(true)
	RecordKeyframeAttempt(false)
	RecordKeyframeAttempt(false)

	failed := testutil.ToFloat64(KeyframeAttemptsTotal.WithLabelValues("failed"))
	if failed != 2.0 {
		t.Errorf("Expected failed attempts to be 2.0, got %f", failed)
	}
}

func TestRecordKeyframeCacheLookup(t *testing.T) {
	KeyframeCacheLookupsTotal.Reset()

	RecordKeyframeCacheLookup("hit")
	RecordKeyframeCacheLookup("stale")
	RecordKeyframeCacheLookup("hit")

	hits := testutil.ToFloat64(KeyframeCacheLookupsTotal.WithLabelValues("hit"))
	if hits != 2.0 {
		t.Errorf("Expected cache hits to be 2.0, got %f", hits)
	}
}

func TestRenderGauge(t *testing.T) {
	RenderSubmissionsTotal.Reset()
	RenderPollsTotal.Reset()
	RendersInProgress.Set(0)

	RecordRenderSubmission(nil)
	RecordRenderSubmission(nil)
	RecordRenderSubmission(errors.New("rejected"))
	RecordRenderPoll("progress", false)
	RecordRenderPoll("done", true)

	inProgress := testutil.ToFloat64(RendersInProgress)
	if inProgress != 1.0 {
		t.Errorf("Expected renders in progress to be 1.0, got %f", inProgress)
	}

	rejected := testutil.ToFloat64(RenderSubmissionsTotal.WithLabelValues("failed"))
	if rejected != 1.0 {
		t.Errorf("Expected rejected submissions to be 1.0, got %f", rejected)
	}

	done := testutil.ToFloat64(RenderPollsTotal.WithLabelValues("done"))
	if done != 1.0 {
		t.Errorf("Expected done polls to be 1.0, got %f", done)
	}
}

func TestRecordProxyRequest(t *testing.T) {
	ProxyRequestsTotal.Reset()
	before := testutil.ToFloat64(ProxyBytesTransferred)

	RecordProxyRequest(200, 4096, 0.05)
	RecordProxyRequest(403, 0, 0)

	forbidden := testutil.ToFloat64(ProxyRequestsTotal.WithLabelValues("403"))
	if forbidden != 1.0 {
		t.Errorf("Expected forbidden counter to be 1.0, got %f", forbidden)
	}

	bytes := testutil.ToFloat64(ProxyBytesTransferred) - before
	if bytes != 4096.0 {
		t.Errorf("Expected bytes transferred to be 4096.0, got %f", bytes)
	}
}

func TestRecordStorageOperation(t *testing.T) {
	StorageOperationsTotal.Reset()

	RecordStorageOperation("presign", "success", 0.012)

	counter := testutil.ToFloat64(StorageOperationsTotal.WithLabelValues("presign", "success"))
	if counter != 1.0 {
		t.Errorf("Expected storage operation counter to be 1.0, got %f", counter)
	}
}

func TestRecordPrewarmJob(t *testing.T) {
	PrewarmJobsTotal.Reset()

	RecordPrewarmJob("published")
	RecordPrewarmJob("completed")
	RecordPrewarmJob("published")

	published := testutil.ToFloat64(PrewarmJobsTotal.WithLabelValues("published"))
	if published != 2.0 {
		t.Errorf("Expected published jobs to be 2.0, got %f", published)
	}
}

func TestUpdateQueueDepth(t *testing.T) {
	UpdateQueueDepth("keyframe_prewarm", 4)
	UpdateQueueDepth("keyframe_prewarm", 1)

	depth := testutil.ToFloat64(QueueDepth.WithLabelValues("keyframe_prewarm"))
	if depth != 1.0 {
		t.Errorf("Expected queue depth to be 1.0, got %f", depth)
	}
}

func TestRecordCacheAccess(t *testing.T) {
	CacheHitsTotal.Reset()
	CacheMissesTotal.Reset()

	RecordCacheAccess("keyframes", true)
	RecordCacheAccess("keyframes", true)
	RecordCacheAccess("keyframes", false)

	hits := testutil.ToFloat64(CacheHitsTotal.WithLabelValues("keyframes"))
	if hits != 2.0 {
		t.Errorf("Expected cache hits to be 2.0, got %f", hits)
	}

	misses := testutil.ToFloat64(CacheMissesTotal.WithLabelValues("keyframes"))
	if misses != 1.0 {
		t.Errorf("Expected cache misses to be 1.0, got %f", misses)
	}
}

func TestRecordError(t *testing.T) {
	ErrorsTotal.Reset()

	RecordError("api", "validation")
	RecordError("worker", "ffmpeg")
	RecordError("api", "validation")

	apiErrors := testutil.ToFloat64(ErrorsTotal.WithLabelValues("api", "validation"))
	if apiErrors != 2.0 {
		t.Errorf("Expected API validation errors to be 2.0, got %f", apiErrors)
	}

	workerErrors := testutil.ToFloat64(ErrorsTotal.WithLabelValues("worker", "ffmpeg"))
	if workerErrors != 1.0 {
		t.Errorf("Expected worker FFmpeg errors to be 1.0, got %f", workerErrors)
	}
}

func BenchmarkRecordHTTPRequest(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordHTTPRequest("GET", "/api/v1/compositions/:id", "200", 0.123)
	}
}

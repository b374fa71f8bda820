package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/composer/internal/composition"
	"github.com/therealutkarshpriyadarshi/composer/internal/keyframes"
	"github.com/therealutkarshpriyadarshi/composer/internal/logging"
	"github.com/therealutkarshpriyadarshi/composer/internal/proxy"
	"github.com/therealutkarshpriyadarshi/composer/internal/render"
	"github.com/therealutkarshpriyadarshi/composer/internal/storage"
	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

type testGrabber struct{}

func (testGrabber) Dimensions(ctx context.Context, url string) (int, int, error) {
	return 1280, 720, nil
}

func (testGrabber) GrabFrame(ctx context.Context, url string, atSeconds float64, height int) (string, error) {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%.3f", atSeconds))), nil
}

type testProber struct{}

func (testProber) Probe(ctx context.Context, url string) error { return nil }

type testExecutor struct {
	mu        sync.Mutex
	submitErr error
	submitted []models.RenderRequest
	report    *render.ExecutorProgress
}

func (e *testExecutor) Submit(ctx context.Context, req models.RenderRequest) (models.RenderHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitted = append(e.submitted, req)
	if e.submitErr != nil {
		return models.RenderHandle{}, e.submitErr
	}
	return models.RenderHandle{RenderID: "r-1", BucketName: "renders-bucket"}, nil
}

func (e *testExecutor) Progress(ctx context.Context, handle models.RenderHandle) (*render.ExecutorProgress, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.report == nil {
		return nil, errors.New("dial tcp: connection refused")
	}
	return e.report, nil
}

type testSigner struct {
	statErr error
}

func (s testSigner) StatRender(ctx context.Context, bucket, renderID string) (*storage.Object, error) {
	if s.statErr != nil {
		return nil, s.statErr
	}
	return &storage.Object{Bucket: bucket, Key: storage.RenderKey(renderID), Size: 2048}, nil
}

func (s testSigner) PresignRenderDownload(ctx context.Context, bucket, renderID string) (string, error) {
	return "https://s3.example.com/" + bucket + "/" + storage.RenderKey(renderID) + "?X-Amz-Signature=abc", nil
}

func (s testSigner) Expiry() time.Duration { return time.Hour }

type testPublisher struct {
	jobs []*models.PrewarmJob
}

func (p *testPublisher) PublishPrewarm(ctx context.Context, job *models.PrewarmJob) error {
	p.jobs = append(p.jobs, job)
	return nil
}

type testPinger struct{ err error }

func (p testPinger) Ping(ctx context.Context) error { return p.err }

func newTestAPI(executor *testExecutor) *API {
	logger := logging.Nop()
	return &API{
		sessions:  composition.NewManager(composition.Settings{FPS: 30, Width: 1920, Height: 1080}, nil),
		placer:    composition.Placer{MaxRows: composition.DefaultMaxRows},
		extractor: keyframes.NewExtractor(nil, testGrabber{}, testProber{}, keyframes.DefaultOptions(), logger),
		renders:   render.NewOrchestrator(executor, render.NewMemoryJobStore(render.DefaultJobTTL), logger),
		storage:   testSigner{},
		proxy:     proxy.NewHandler(proxy.Config{AllowedHosts: []string{"cdn.example.com"}}, logger),
		logger:    logger,
	}
}

func doRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doRequest(router, http.MethodPost, "/api/v1/compositions", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp compositionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.ID
}

func addClip(t *testing.T, router *gin.Engine, id string, body map[string]interface{}) models.Overlay {
	t.Helper()
	w := doRequest(router, http.MethodPost, "/api/v1/compositions/"+id+"/overlays", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var overlay models.Overlay
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &overlay))
	return overlay
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func TestCompositionLifecycle(t *testing.T) {
	api := newTestAPI(&testExecutor{})
	router := setupRouter(api)

	w := doRequest(router, http.MethodPost, "/api/v1/compositions", map[string]int{"fps": 25})
	require.Equal(t, http.StatusCreated, w.Code)

	var created compositionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, 25, created.Settings.FPS)
	assert.Equal(t, 1920, created.Settings.Width)
	assert.Empty(t, created.Overlays)

	w = doRequest(router, http.MethodGet, "/api/v1/compositions/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodDelete, "/api/v1/compositions/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/compositions/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateCompositionInvalidBody(t *testing.T) {
	router := setupRouter(newTestAPI(&testExecutor{}))

	w := doRequest(router, http.MethodPost, "/api/v1/compositions", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddOverlayAutoPlace(t *testing.T) {
	router := setupRouter(newTestAPI(&testExecutor{}))
	id := createSession(t, router)

	first := addClip(t, router, id, map[string]interface{}{
		"type": "video", "durationInFrames": 90, "src": "https://cdn.example.com/a.mp4",
	})
	assert.Equal(t, 1, first.ID)
	assert.Equal(t, 0, first.Row)
	assert.Equal(t, 0, first.From)

	// Omitted row and from place the clip after the first one.
	second := addClip(t, router, id, map[string]interface{}{
		"type": "image", "durationInFrames": 30, "src": "https://cdn.example.com/b.png",
	})
	assert.Equal(t, 0, second.Row)
	assert.Equal(t, 90, second.From)

	// Explicit coordinates are kept as given.
	third := addClip(t, router, id, map[string]interface{}{
		"type": "text", "durationInFrames": 30, "row": 2, "from": 10, "content": "Title",
	})
	assert.Equal(t, 2, third.Row)
	assert.Equal(t, 10, third.From)

	w := doRequest(router, http.MethodGet, "/api/v1/compositions/"+id+"/overlays", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Overlays []models.Overlay `json:"overlays"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 3, list.Count)
	assert.Equal(t, []int{1, 2, 3}, []int{list.Overlays[0].ID, list.Overlays[1].ID, list.Overlays[2].ID})
}

func TestAddOverlayExplicitZeroIsNotAutoPlaced(t *testing.T) {
	router := setupRouter(newTestAPI(&testExecutor{}))
	id := createSession(t, router)

	addClip(t, router, id, map[string]interface{}{
		"type": "video", "durationInFrames": 90, "src": "https://cdn.example.com/a.mp4",
	})

	// Row 0 and frame 0 given explicitly are kept even though the slot is taken.
	explicit := addClip(t, router, id, map[string]interface{}{
		"type": "text", "durationInFrames": 30, "row": 0, "from": 0, "content": "Title",
	})
	assert.Equal(t, 0, explicit.Row)
	assert.Equal(t, 0, explicit.From)

	// Only one coordinate given still counts as explicit.
	rowOnly := addClip(t, router, id, map[string]interface{}{
		"type": "text", "durationInFrames": 30, "row": 1, "content": "Caption",
	})
	assert.Equal(t, 1, rowOnly.Row)
	assert.Equal(t, 0, rowOnly.From)

	// autoPlace overrides the given coordinates.
	placed := addClip(t, router, id, map[string]interface{}{
		"type": "image", "durationInFrames": 30, "row": 0, "from": 0, "autoPlace": true, "availableRows": 1,
		"src": "https://cdn.example.com/b.png",
	})
	assert.Equal(t, 0, placed.Row)
	assert.Equal(t, 90, placed.From)
}

func TestAddOverlayValidation(t *testing.T) {
	router := setupRouter(newTestAPI(&testExecutor{}))
	id := createSession(t, router)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"malformed", "{", http.StatusBadRequest},
		{"zero duration", map[string]interface{}{"type": "video", "row": 0, "from": 0}, http.StatusBadRequest},
		{"unknown type", map[string]interface{}{"type": "shape", "durationInFrames": 10, "row": 0, "from": 0}, http.StatusBadRequest},
		{"auto place without duration", map[string]interface{}{"type": "video"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodPost, "/api/v1/compositions/"+id+"/overlays", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w := doRequest(router, http.MethodPost, "/api/v1/compositions/missing/overlays", map[string]interface{}{"type": "video", "durationInFrames": 10})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChangeAndRemoveOverlay(t *testing.T) {
	router := setupRouter(newTestAPI(&testExecutor{}))
	id := createSession(t, router)
	clip := addClip(t, router, id, map[string]interface{}{"type": "video", "durationInFrames": 60, "src": "https://cdn.example.com/a.mp4"})
	path := fmt.Sprintf("/api/v1/compositions/%s/overlays/%d", id, clip.ID)

	w := doRequest(router, http.MethodPatch, path, map[string]interface{}{"from": 45, "left": 12.5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Overlay
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, 45, updated.From)
	assert.Equal(t, 12.5, updated.Left)
	assert.Equal(t, 60, updated.DurationInFrames)

	w = doRequest(router, http.MethodPatch, path, map[string]interface{}{"type": "image"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(router, http.MethodPatch, fmt.Sprintf("/api/v1/compositions/%s/overlays/99", id), map[string]interface{}{"from": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodPatch, fmt.Sprintf("/api/v1/compositions/%s/overlays/abc", id), map[string]interface{}{"from": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(router, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFindPlacement(t *testing.T) {
	router := setupRouter(newTestAPI(&testExecutor{}))
	id := createSession(t, router)
	addClip(t, router, id, map[string]interface{}{"type": "video", "durationInFrames": 50, "row": 0, "from": 0})
	addClip(t, router, id, map[string]interface{}{"type": "video", "durationInFrames": 50, "row": 0, "from": 80})

	w := doRequest(router, http.MethodPost, "/api/v1/compositions/"+id+"/placement", map[string]int{"durationInFrames": 30})
	require.Equal(t, http.StatusOK, w.Code)

	var pos composition.Position
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pos))
	assert.Equal(t, composition.Position{From: 50, Row: 0}, pos)

	w = doRequest(router, http.MethodPost, "/api/v1/compositions/"+id+"/placement", map[string]int{"availableRows": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetKeyframes(t *testing.T) {
	router := setupRouter(newTestAPI(&testExecutor{}))
	id := createSession(t, router)
	clip := addClip(t, router, id, map[string]interface{}{"type": "video", "durationInFrames": 100, "src": "https://cdn.example.com/a.mp4"})
	path := fmt.Sprintf("/api/v1/compositions/%s/overlays/%d/keyframes?viewportWidth=1500&zoom=1", id, clip.ID)

	w := doRequest(router, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp keyframesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Cached)
	assert.Equal(t, 10, resp.Planned)
	assert.Len(t, resp.Frames, 10)
	assert.Equal(t, []int{0, 10, 20, 30, 40, 50, 60, 70, 80, 90}, resp.PreviewFrames)
	assert.Equal(t, 1280, resp.Width)

	w = doRequest(router, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)

	w = doRequest(router, http.MethodGet, fmt.Sprintf("/api/v1/compositions/%s/overlays/%d/keyframes?zoom=-1", id, clip.ID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	text := addClip(t, router, id, map[string]interface{}{"type": "text", "durationInFrames": 30, "content": "Hi"})
	w = doRequest(router, http.MethodGet, fmt.Sprintf("/api/v1/compositions/%s/overlays/%d/keyframes", id, text.ID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPrewarmKeyframes(t *testing.T) {
	api := newTestAPI(&testExecutor{})
	router := setupRouter(api)
	id := createSession(t, router)
	clip := addClip(t, router, id, map[string]interface{}{"type": "video", "durationInFrames": 100, "src": "https://cdn.example.com/a.mp4"})
	path := fmt.Sprintf("/api/v1/compositions/%s/overlays/%d/keyframes/prewarm?viewportWidth=900", id, clip.ID)

	w := doRequest(router, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	publisher := &testPublisher{}
	api.prewarm = publisher

	w = doRequest(router, http.MethodPost, path, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, publisher.jobs, 1)
	job := publisher.jobs[0]
	assert.Equal(t, id, job.CompositionID)
	assert.Equal(t, clip.ID, job.Overlay.ID)
	assert.Equal(t, 900.0, job.ViewportWidth)
	assert.Equal(t, 1.0, job.Zoom)
	assert.Equal(t, 30, job.FPS)
	assert.NotEmpty(t, job.ID)
}

func TestRenderFlow(t *testing.T) {
	executor := &testExecutor{}
	api := newTestAPI(executor)
	router := setupRouter(api)
	id := createSession(t, router)
	addClip(t, router, id, map[string]interface{}{
		"type": "video", "durationInFrames": 90, "src": "/api/video-proxy?url=" + "https%3A%2F%2Fcdn.example.com%2Fa.mp4",
	})

	w := doRequest(router, http.MethodPost, "/api/v1/compositions/"+id+"/render", map[string]int{"durationInFrames": 120})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var job models.RenderJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "r-1", job.RenderID)
	assert.Equal(t, models.RenderStatePolling, job.State)

	require.Len(t, executor.submitted, 1)
	assert.Equal(t, 120, executor.submitted[0].DurationInFrames)
	assert.Equal(t, "https://cdn.example.com/a.mp4", executor.submitted[0].Overlays[0].Src)

	// Not finished yet
	w = doRequest(router, http.MethodGet, "/api/v1/render/r-1/download", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Transport failure keeps the job polling
	w = doRequest(router, http.MethodPost, "/api/v1/render/progress", models.RenderHandle{RenderID: "r-1", BucketName: "renders-bucket"})
	require.Equal(t, http.StatusOK, w.Code)
	var progress models.ProgressResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &progress))
	assert.Equal(t, models.ProgressTypeError, progress.Type)
	assert.Equal(t, models.ErrorKindTransport, progress.Kind)

	executor.mu.Lock()
	executor.report = &render.ExecutorProgress{Done: true, OverallProgress: 1, OutputFile: "https://s3.example.com/out.mp4", OutputSizeInBytes: 2048}
	executor.mu.Unlock()

	w = doRequest(router, http.MethodPost, "/api/v1/render/progress", models.RenderHandle{RenderID: "r-1", BucketName: "renders-bucket"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &progress))
	assert.Equal(t, models.ProgressTypeDone, progress.Type)
	assert.Equal(t, "https://s3.example.com/out.mp4", progress.URL)

	w = doRequest(router, http.MethodGet, "/api/v1/render/r-1/download", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var download struct {
		URL  string `json:"url"`
		Size int64  `json:"size"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &download))
	assert.Contains(t, download.URL, "renders-bucket/renders/r-1/out.mp4")
	assert.Equal(t, int64(2048), download.Size)

	// The job is dropped once its download has been handed out
	stored, err := api.renders.Job(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Nil(t, stored)

	w = doRequest(router, http.MethodGet, "/api/v1/render/r-1/download", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doRequest(router, http.MethodGet, "/api/v1/render/r-1/download?bucketName=renders-bucket", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRenderSubmitRejected(t *testing.T) {
	executor := &testExecutor{submitErr: &render.ExecutorError{StatusCode: http.StatusUnprocessableEntity, Message: "composition too long"}}
	router := setupRouter(newTestAPI(executor))
	id := createSession(t, router)
	addClip(t, router, id, map[string]interface{}{"type": "video", "durationInFrames": 90, "src": "https://cdn.example.com/a.mp4"})

	w := doRequest(router, http.MethodPost, "/api/v1/compositions/"+id+"/render", nil)
	require.Equal(t, http.StatusBadGateway, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "composition too long")
	assert.Equal(t, string(models.RenderStateError), resp["state"])
}

func TestRenderValidation(t *testing.T) {
	router := setupRouter(newTestAPI(&testExecutor{}))
	id := createSession(t, router)

	// No overlays
	w := doRequest(router, http.MethodPost, "/api/v1/compositions/"+id+"/render", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPost, "/api/v1/render/progress", map[string]string{"bucketName": "b"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadUnknownRender(t *testing.T) {
	api := newTestAPI(&testExecutor{})
	router := setupRouter(api)

	w := doRequest(router, http.MethodGet, "/api/v1/render/other/download", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/render/other/download?bucketName=renders-bucket", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	api.storage = testSigner{statErr: storage.ErrObjectNotFound}
	w = doRequest(router, http.MethodGet, "/api/v1/render/other/download?bucketName=renders-bucket", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	api.storage = nil
	w = doRequest(router, http.MethodGet, "/api/v1/render/other/download?bucketName=renders-bucket", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestProxyRouteRegistered(t *testing.T) {
	router := setupRouter(newTestAPI(&testExecutor{}))

	w := doRequest(router, http.MethodGet, "/api/video-proxy?url=https%3A%2F%2Fevil.example.com%2Fa.mp4", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = doRequest(router, http.MethodGet, "/api/video-proxy", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodOptions, "/api/video-proxy", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHealthCheck(t *testing.T) {
	api := newTestAPI(&testExecutor{})
	router := setupRouter(api)

	w := doRequest(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	api.redis = testPinger{err: errors.New("connection refused")}
	w = doRequest(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{composition.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", composition.ErrImmutableField), http.StatusConflict},
		{keyframes.ErrInsufficientYield, http.StatusBadGateway},
		{keyframes.ErrMediaUnreachable, http.StatusServiceUnavailable},
		{errQueueDisabled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

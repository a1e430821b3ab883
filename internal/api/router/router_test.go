package router

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/api/dto"
	"github.com/cuongbtq/ai-recruiter/internal/api/handler"
	"github.com/cuongbtq/ai-recruiter/internal/blob"
	"github.com/cuongbtq/ai-recruiter/internal/orchestrator"
	"github.com/cuongbtq/ai-recruiter/internal/pipeline"
	"github.com/cuongbtq/ai-recruiter/internal/storage"
	"github.com/cuongbtq/ai-recruiter/internal/stream"
	"github.com/cuongbtq/ai-recruiter/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

type testServer struct {
	engine *gin.Engine
	orch   *orchestrator.Orchestrator
}

type serverOption func(*handler.Dependencies, *worker.Config)

func withMaxUpload(n int64) serverOption {
	return func(d *handler.Dependencies, _ *worker.Config) { d.MaxUploadSize = n }
}

func withConcurrency(n int) serverOption {
	return func(_ *handler.Dependencies, w *worker.Config) { w.Concurrency = n }
}

func newTestServer(t *testing.T, p pipeline.Pipeline, opts ...serverOption) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	blobs, err := blob.NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)

	hub := stream.NewHub(logger, time.Minute)
	workerCfg := &worker.Config{
		Logger:      logger,
		Pipeline:    p,
		Blobs:       blobs,
		Concurrency: 2,
		WorkerID:    "test",
	}
	deps := &handler.Dependencies{
		Logger:        logger,
		Blobs:         blobs,
		ServiceName:   "ai-recruiter",
		MaxUploadSize: 1 << 20,
	}
	for _, opt := range opts {
		opt(deps, workerCfg)
	}

	dispatcher := worker.NewWorker(workerCfg)
	orch, err := orchestrator.New(&orchestrator.Config{
		Logger:         logger,
		Store:          storage.NewMemoryStore(),
		Hub:            hub,
		Dispatcher:     dispatcher,
		PersistRetries: 1,
		PersistBackoff: time.Millisecond,
		PersistTimeout: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, orch.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		orch.Shutdown(ctx)
		hub.Close()
	})

	deps.Jobs = orch
	deps.Pool = dispatcher
	return &testServer{engine: SetupRouter(deps), orch: orch}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, userID string, files map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if userID != "" {
		require.NoError(t, mw.WriteField("user_id", userID))
	}
	for field, name := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("content of " + name))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (s *testServer) submit(t *testing.T, userID string) string {
	t.Helper()
	w := s.do(uploadRequest(t, userID, map[string]string{"cv": "resume.pdf", "jd": "role.txt"}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp dto.CreateJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	return resp.JobID
}

func (s *testServer) getJob(t *testing.T, jobID string) dto.JobDTO {
	t.Helper()
	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var job dto.JobDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	return job
}

func (s *testServer) waitStatus(t *testing.T, jobID, status string) dto.JobDTO {
	t.Helper()
	var job dto.JobDTO
	require.Eventually(t, func() bool {
		job = s.getJob(t, jobID)
		return job.Status == status
	}, waitFor, 5*time.Millisecond, "job never reached %s", status)
	return job
}

// parseSSE extracts the data payloads of an event stream
func parseSSE(t *testing.T, r io.Reader) []dto.StreamMessage {
	t.Helper()
	var msgs []dto.StreamMessage
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		var msg dto.StreamMessage
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(data)), &msg))
		msgs = append(msgs, msg)
	}
	return msgs
}

func passingPipeline() pipeline.Pipeline {
	return pipeline.Func(func(ctx context.Context, cv, jd pipeline.Document, onProgress pipeline.ProgressFunc) (*pipeline.Outcome, error) {
		onProgress(20, "Parsing CV...")
		onProgress(60, "Scoring")
		return &pipeline.Outcome{Decision: "PASS", Report: []byte(`{"score":88}`)}, nil
	})
}

func blockingPipeline(gate <-chan struct{}) pipeline.Pipeline {
	return pipeline.Func(func(ctx context.Context, cv, jd pipeline.Document, onProgress pipeline.ProgressFunc) (*pipeline.Outcome, error) {
		onProgress(10, "Parsing CV...")
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &pipeline.Outcome{Decision: "FAIL"}, nil
	})
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, passingPipeline())

	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.Contains(t, w.Body.String(), `"concurrency":2`)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestRequestID_Propagated(t *testing.T) {
	s := newTestServer(t, passingPipeline())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := s.do(req)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}

func TestCreateJob_CompletesAndStreams(t *testing.T) {
	s := newTestServer(t, passingPipeline())
	jobID := s.submit(t, "alice")

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/stream", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	msgs := parseSSE(t, w.Body)
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, "CONNECTED", msgs[0].Type)

	last := msgs[len(msgs)-1]
	assert.Equal(t, "COMPLETED", last.Type)
	assert.Equal(t, jobID, last.JobID)
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, "PASS", last.Decision)
	assert.NotEmpty(t, last.ReportRef)

	prev := 0
	for _, msg := range msgs[1:] {
		assert.GreaterOrEqual(t, msg.Progress, prev)
		prev = msg.Progress
	}

	job := s.getJob(t, jobID)
	assert.Equal(t, "COMPLETED", job.Status)
	assert.Equal(t, "alice", job.UserID)
	assert.Equal(t, "Evaluation complete", job.StageMessage)
	assert.True(t, strings.HasSuffix(job.CVRef, "/cv_resume.pdf"))
	assert.True(t, strings.HasSuffix(job.JDRef, "/jd_role.txt"))
}

func TestStream_LegacyPath(t *testing.T) {
	s := newTestServer(t, passingPipeline())
	jobID := s.submit(t, "alice")
	s.waitStatus(t, jobID, "COMPLETED")

	w := s.do(httptest.NewRequest(http.MethodGet, "/ws/jobs/"+jobID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	msgs := parseSSE(t, w.Body)
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, "CONNECTED", msgs[0].Type)
	assert.Equal(t, "COMPLETED", msgs[len(msgs)-1].Type)
}

func TestStream_UnknownJob(t *testing.T) {
	s := newTestServer(t, passingPipeline())

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/missing/stream", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStream_Superseded(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)

	s := newTestServer(t, blockingPipeline(gate))
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	jobID := s.submit(t, "alice")
	s.waitStatus(t, jobID, "RUNNING")

	first, err := http.Get(srv.URL + "/api/v1/jobs/" + jobID + "/stream")
	require.NoError(t, err)
	defer first.Body.Close()

	reader := bufio.NewReader(first.Body)
	readData := func() dto.StreamMessage {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data:"); ok {
				var msg dto.StreamMessage
				require.NoError(t, json.Unmarshal([]byte(data), &msg))
				return msg
			}
		}
	}
	assert.Equal(t, "CONNECTED", readData().Type)
	assert.Equal(t, "PROGRESS", readData().Type)

	second, err := http.Get(srv.URL + "/api/v1/jobs/" + jobID + "/stream")
	require.NoError(t, err)
	defer second.Body.Close()

	assert.Equal(t, dto.StreamTypeSuperseded, readData().Type)
}

func TestCreateJob_Validation(t *testing.T) {
	s := newTestServer(t, passingPipeline())

	tests := []struct {
		name   string
		userID string
		files  map[string]string
		errMsg string
	}{
		{
			name:   "missing cv",
			userID: "alice",
			files:  map[string]string{"jd": "role.txt"},
			errMsg: "cv file is required",
		},
		{
			name:   "missing jd",
			userID: "alice",
			files:  map[string]string{"cv": "resume.pdf"},
			errMsg: "jd file is required",
		},
		{
			name:   "missing user",
			files:  map[string]string{"cv": "resume.pdf", "jd": "role.txt"},
			errMsg: "user_id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(uploadRequest(t, tt.userID, tt.files))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.errMsg)
		})
	}
}

func TestCreateJob_TooLarge(t *testing.T) {
	s := newTestServer(t, passingPipeline(), withMaxUpload(64))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("user_id", "alice"))
	fw, err := mw.CreateFormFile("cv", "resume.pdf")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte("x"), 4096))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := s.do(req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestGetJob_NotFound(t *testing.T) {
	s := newTestServer(t, passingPipeline())

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs_Pagination(t *testing.T) {
	s := newTestServer(t, passingPipeline())

	var ids []string
	for range 3 {
		id := s.submit(t, "alice")
		s.waitStatus(t, id, "COMPLETED")
		ids = append(ids, id)
	}
	other := s.submit(t, "bob")
	s.waitStatus(t, other, "COMPLETED")

	list := func(url string) dto.ListJobsResponse {
		w := s.do(httptest.NewRequest(http.MethodGet, url, nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}

	first := list("/api/v1/jobs?user_id=alice&page_size=2")
	require.Len(t, first.Jobs, 2)
	require.NotEmpty(t, first.NextCursor)

	second := list("/api/v1/jobs?user_id=alice&page_size=2&cursor=" + first.NextCursor)
	require.Len(t, second.Jobs, 1)
	assert.Empty(t, second.NextCursor)

	seen := map[string]bool{}
	for _, job := range append(first.Jobs, second.Jobs...) {
		assert.Equal(t, "alice", job.UserID)
		seen[job.JobID] = true
	}
	for _, id := range ids {
		assert.True(t, seen[id], "job %s missing from listing", id)
	}

	byUser := list("/api/v1/jobs/user/bob")
	require.Len(t, byUser.Jobs, 1)
	assert.Equal(t, other, byUser.Jobs[0].JobID)

	completed := list("/api/v1/jobs?status=completed")
	assert.Len(t, completed.Jobs, 4)
}

func TestListJobs_InvalidParameters(t *testing.T) {
	s := newTestServer(t, passingPipeline())

	for _, url := range []string{
		"/api/v1/jobs?status=DONE",
		"/api/v1/jobs?cursor=not-base64!",
		"/api/v1/jobs?page_size=abc",
	} {
		w := s.do(httptest.NewRequest(http.MethodGet, url, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, url)
	}
}

func TestGetReport(t *testing.T) {
	s := newTestServer(t, passingPipeline())
	jobID := s.submit(t, "alice")
	s.waitStatus(t, jobID, "COMPLETED")

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/report", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"score":88}`, w.Body.String())
}

func TestGetReport_NotCompleted(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)

	s := newTestServer(t, blockingPipeline(gate))
	jobID := s.submit(t, "alice")
	s.waitStatus(t, jobID, "RUNNING")

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/report", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelJob(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)

	s := newTestServer(t, blockingPipeline(gate), withConcurrency(1))
	running := s.submit(t, "alice")
	s.waitStatus(t, running, "RUNNING")
	queued := s.submit(t, "alice")

	w := s.do(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+queued+"/cancel", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var job dto.JobDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "FAILED", job.Status)
	assert.Equal(t, "CANCELLED", job.ErrorKind)

	w = s.do(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+running+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+queued+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/missing/cancel", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS_Preflight(t *testing.T) {
	s := newTestServer(t, passingPipeline())

	w := s.do(httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

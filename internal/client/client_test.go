package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/ai-recruiter/internal/api/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSubmit(t *testing.T) {
	dir := t.TempDir()
	cvPath := filepath.Join(dir, "resume.pdf")
	jdPath := filepath.Join(dir, "role.txt")
	require.NoError(t, os.WriteFile(cvPath, []byte("cv bytes"), 0o644))
	require.NoError(t, os.WriteFile(jdPath, []byte("jd bytes"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/jobs", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "alice", r.FormValue("user_id"))

		f, fh, err := r.FormFile("cv")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "resume.pdf", fh.Filename)
		assert.Equal(t, "cv bytes", string(data))

		_, fh, err = r.FormFile("jd")
		require.NoError(t, err)
		assert.Equal(t, "role.txt", fh.Filename)

		writeJSON(w, http.StatusAccepted, dto.CreateJobResponse{JobID: "job-1", Status: "SUBMITTED"})
	}))
	defer srv.Close()

	resp, err := New(srv.URL).Submit(context.Background(), "alice", cvPath, jdPath)
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, "SUBMITTED", resp.Status)
}

func TestSubmit_MissingFile(t *testing.T) {
	_, err := New("http://127.0.0.1:1").Submit(context.Background(), "alice", "/nonexistent/cv.pdf", "/nonexistent/jd.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open cv")
}

func TestListJobs_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "alice", q.Get("user_id"))
		assert.Equal(t, "FAILED", q.Get("status"))
		assert.Equal(t, "5", q.Get("page_size"))
		assert.Equal(t, "abc", q.Get("cursor"))
		writeJSON(w, http.StatusOK, dto.ListJobsResponse{
			Jobs:       []dto.JobDTO{{JobID: "job-1", Status: "FAILED"}},
			NextCursor: "def",
		})
	}))
	defer srv.Close()

	resp, err := New(srv.URL+"/").ListJobs(context.Background(), ListOptions{
		UserID: "alice", Status: "FAILED", PageSize: 5, Cursor: "abc",
	})
	require.NoError(t, err)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "def", resp.NextCursor)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Error: "job already started and cannot be cancelled"})
	}))
	defer srv.Close()

	_, err := New(srv.URL).CancelJob(context.Background(), "job-1")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "job already started and cannot be cancelled", apiErr.Message)
}

func TestReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/job-1/report", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score":88}`))
	}))
	defer srv.Close()

	report, err := New(srv.URL).Report(context.Background(), "job-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":88}`, string(report))
}

func TestWatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/job-1/stream", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, msg := range []dto.StreamMessage{
			{Type: "CONNECTED", JobID: "job-1", Message: "Connected"},
			{Type: "PROGRESS", JobID: "job-1", Message: "Parsing CV...", Progress: 20},
			{Type: "COMPLETED", JobID: "job-1", Message: "Evaluation complete", Progress: 100, Decision: "PASS"},
		} {
			b, _ := json.Marshal(msg)
			fmt.Fprintf(w, "event:message\ndata:%s\n\n", b)
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	var got []dto.StreamMessage
	err := New(srv.URL).Watch(context.Background(), "job-1", func(msg dto.StreamMessage) error {
		got = append(got, msg)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "PROGRESS", got[1].Type)
	assert.Equal(t, 20, got[1].Progress)
	assert.Equal(t, "PASS", got[2].Decision)
}

func TestWatch_StopsOnCallbackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data:{\"type\":\"CONNECTED\",\"job_id\":\"job-1\"}\n\n")
		fmt.Fprint(w, "data:{\"type\":\"PROGRESS\",\"job_id\":\"job-1\"}\n\n")
	}))
	defer srv.Close()

	stop := errors.New("stop")
	calls := 0
	err := New(srv.URL).Watch(context.Background(), "job-1", func(msg dto.StreamMessage) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestWatch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
	}))
	defer srv.Close()

	err := New(srv.URL).Watch(context.Background(), "missing", func(dto.StreamMessage) error { return nil })
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

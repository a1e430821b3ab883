package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/api/dto"
)

// Client is a minimal HTTP client for the evaluation API
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// APIError wraps non-2xx responses
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d: %s", e.StatusCode, e.Message)
}

// ListOptions filters a job listing
type ListOptions struct {
	UserID   string
	Status   string
	PageSize int
	Cursor   string
}

// Submit uploads the two documents and submits an evaluation
func (c *Client) Submit(ctx context.Context, userID, cvPath, jdPath string) (dto.CreateJobResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("user_id", userID); err != nil {
		return dto.CreateJobResponse{}, err
	}
	if err := attachFile(mw, "cv", cvPath); err != nil {
		return dto.CreateJobResponse{}, err
	}
	if err := attachFile(mw, "jd", jdPath); err != nil {
		return dto.CreateJobResponse{}, err
	}
	if err := mw.Close(); err != nil {
		return dto.CreateJobResponse{}, err
	}

	var resp dto.CreateJobResponse
	err := c.do(ctx, http.MethodPost, "api/v1/jobs", mw.FormDataContentType(), &body, &resp)
	return resp, err
}

func attachFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", field, err)
	}
	defer f.Close()

	fw, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(fw, f)
	return err
}

// GetJob fetches one job
func (c *Client) GetJob(ctx context.Context, jobID string) (dto.JobDTO, error) {
	var resp dto.JobDTO
	err := c.do(ctx, http.MethodGet, "api/v1/jobs/"+url.PathEscape(jobID), "", nil, &resp)
	return resp, err
}

// ListJobs returns one page of jobs, newest first
func (c *Client) ListJobs(ctx context.Context, opts ListOptions) (dto.ListJobsResponse, error) {
	q := url.Values{}
	if opts.UserID != "" {
		q.Set("user_id", opts.UserID)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(opts.PageSize))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}

	endpoint := "api/v1/jobs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var resp dto.ListJobsResponse
	err := c.do(ctx, http.MethodGet, endpoint, "", nil, &resp)
	return resp, err
}

// CancelJob cancels a job that has not started yet
func (c *Client) CancelJob(ctx context.Context, jobID string) (dto.JobDTO, error) {
	var resp dto.JobDTO
	err := c.do(ctx, http.MethodPost, "api/v1/jobs/"+url.PathEscape(jobID)+"/cancel", "", nil, &resp)
	return resp, err
}

// Report downloads the evaluation report of a completed job
func (c *Client) Report(ctx context.Context, jobID string) ([]byte, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "api/v1/jobs/"+url.PathEscape(jobID)+"/report", "", nil, &raw)
	return raw, err
}

// Watch follows a job's progress stream and calls fn for every message. It
// returns nil once the stream ends normally and stops early if fn errors.
func (c *Client) Watch(ctx context.Context, jobID string, fn func(dto.StreamMessage) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("api/v1/jobs/"+url.PathEscape(jobID)+"/stream"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream lives as long as the job, so no client timeout applies.
	httpClient := *c.httpClient()
	httpClient.Timeout = 0

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		var msg dto.StreamMessage
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &msg); err != nil {
			return fmt.Errorf("failed to decode stream message: %w", err)
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var body dto.ErrorResponse
	if err := json.Unmarshal(b, &body); err == nil && body.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) url(endpoint string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

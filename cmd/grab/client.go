package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/vmunix/grabbr/pkg/filename"
)

// Client wraps HTTP calls to the grabbr server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// fileClient has no overall timeout so large files can stream.
	fileClient *http.Client
}

// NewClient creates a new grabbr API client.
func NewClient(serverURL string) *Client {
	return &Client{
		baseURL: serverURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute, // probes can take a while
		},
		fileClient: &http.Client{},
	}
}

// APIError is an error response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// readError builds an APIError from a non-success response.
func readError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(body))}
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Error
	}
	return apiErr
}

func (c *Client) get(path string, result any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

func (c *Client) post(path string, body any, result any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	default:
		return readError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

func (c *Client) delete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return readError(resp)
	}

	return nil
}

// API response types (mirror server types)

type FormatResponse struct {
	FormatID   string  `json:"format_id"`
	Ext        string  `json:"ext"`
	Resolution *string `json:"resolution"`
	Filesize   *int64  `json:"filesize"`
	Note       *string `json:"note"`
	VCodec     string  `json:"vcodec"`
	ACodec     string  `json:"acodec"`
}

type InfoResponse struct {
	Title     string           `json:"title"`
	Thumbnail string           `json:"thumbnail"`
	Duration  *float64         `json:"duration"`
	Formats   []FormatResponse `json:"formats"`
}

type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type JobResponse struct {
	JobID      string     `json:"job_id"`
	URL        string     `json:"url"`
	FormatID   string     `json:"format_id,omitempty"`
	Status     string     `json:"status"`
	Title      string     `json:"title,omitempty"`
	Filename   string     `json:"filename,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the job will not change status on its own.
func (j *JobResponse) Terminal() bool {
	switch j.Status {
	case "completed", "failed", "expired":
		return true
	}
	return false
}

type ListJobsResponse struct {
	Items []JobResponse `json:"items"`
	Total int           `json:"total"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	EventType  string `json:"event_type"`
	OccurredAt string `json:"occurred_at"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

type ListEventsResponse struct {
	Items []EventResponse `json:"items"`
	Total int             `json:"total"`
}

type StatusResponse struct {
	Status        string         `json:"status"`
	Counts        map[string]int `json:"counts"`
	Workers       int            `json:"workers"`
	Busy          int            `json:"busy"`
	QueueDepth    int            `json:"queue_depth"`
	QueueCapacity int            `json:"queue_capacity"`
}

// Info probes a URL for its title and formats.
func (c *Client) Info(mediaURL, sort string) (*InfoResponse, error) {
	var resp InfoResponse
	body := map[string]string{"url": mediaURL}
	if sort != "" {
		body["sort"] = sort
	}
	if err := c.post("/api/info", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit queues a download job.
func (c *Client) Submit(mediaURL, formatID string) (*SubmitResponse, error) {
	var resp SubmitResponse
	body := map[string]string{"url": mediaURL}
	if formatID != "" {
		body["format_id"] = formatID
	}
	if err := c.post("/api/download", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Job returns one job.
func (c *Client) Job(id string) (*JobResponse, error) {
	var resp JobResponse
	if err := c.get("/api/job/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Jobs lists jobs, optionally filtered by status.
func (c *Client) Jobs(status string) (*ListJobsResponse, error) {
	path := "/api/jobs"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var resp ListJobsResponse
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel cancels a pending job or discards a finished one.
func (c *Client) Cancel(id string) error {
	return c.delete("/api/job/" + url.PathEscape(id))
}

// Events returns a job's audit trail.
func (c *Client) Events(id string) (*ListEventsResponse, error) {
	var resp ListEventsResponse
	if err := c.get("/api/job/"+url.PathEscape(id)+"/events", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns server health and pool statistics.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.get("/api/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitJob polls a job until it reaches a terminal status or ctx ends.
func (c *Client) WaitJob(ctx context.Context, id string, interval time.Duration) (*JobResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		j, err := c.Job(id)
		if err != nil {
			return nil, err
		}
		if j.Terminal() {
			return j, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Fetch downloads a completed job's file into dir and returns its path.
// The server discards the job once the file was delivered.
func (c *Client) Fetch(ctx context.Context, id, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/job/"+url.PathEscape(id)+"/result", nil)
	if err != nil {
		return "", fmt.Errorf("request creation failed: %w", err)
	}

	resp, err := c.fileClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", readError(resp)
	}

	name := attachmentName(resp.Header.Get("Content-Disposition"), id)
	dest := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".grab-*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	return dest, nil
}

// attachmentName extracts a safe filename from a Content-Disposition header.
func attachmentName(header, fallback string) string {
	_, params, err := mime.ParseMediaType(header)
	if err == nil && params["filename"] != "" {
		return filename.Sanitize(filepath.Base(params["filename"]))
	}
	return filename.Sanitize(fallback)
}

// ErrJobFailed is returned when a waited-on job fails.
var ErrJobFailed = errors.New("job failed")

package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	_ "modernc.org/sqlite"

	"github.com/vmunix/grabbr/internal/api"
	"github.com/vmunix/grabbr/internal/events"
	"github.com/vmunix/grabbr/internal/extract"
	"github.com/vmunix/grabbr/internal/job"
	"github.com/vmunix/grabbr/internal/manager"
	"github.com/vmunix/grabbr/internal/migrations"
	"github.com/vmunix/grabbr/internal/worker"
	"github.com/vmunix/grabbr/internal/worker/mocks"
	"github.com/vmunix/grabbr/internal/workspace"
)

const (
	testURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	title   = "Never Gonna Give You Up"
)

type harness struct {
	server *httptest.Server
	ext    *mocks.MockExtractor
	fs     afero.Fs
	root   string
}

// newHarness wires the real store, manager and worker behind the API with
// a mocked extraction tool and an in-memory workspace.
func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(migrations.InitialSQL)
	require.NoError(t, err)

	h := &harness{
		ext:  mocks.NewMockExtractor(gomock.NewController(t)),
		fs:   afero.NewMemMapFs(),
		root: "/tmp/grabbr",
	}
	ws := workspace.NewWithFS(h.fs, h.root, log)
	require.NoError(t, ws.Init())

	store := job.NewStore(db)
	eventLog := events.NewEventLog(db)
	bus := events.NewBus(eventLog, log)
	t.Cleanup(func() { _ = bus.Close() })

	mgr := manager.New(manager.Deps{
		Store:     store,
		Runner:    worker.New(store, h.ext, ws, log),
		Workspace: ws,
		Bus:       bus,
		EventLog:  eventLog,
	}, manager.Config{Workers: 2, QueueSize: 4, MaxDuration: time.Minute, Retention: time.Hour}, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = mgr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	srv, err := api.New(api.ServerDeps{Prober: h.ext, Jobs: mgr, EventLog: eventLog}, api.Config{}, log)
	require.NoError(t, err)
	h.server = httptest.NewServer(srv.Handler())
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(h.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) submit(t *testing.T, body map[string]string) string {
	t.Helper()
	resp := h.post(t, "/api/download", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "pending", out.Status)
	return out.JobID
}

// waitStatus polls the job until it reaches want.
func (h *harness) waitStatus(t *testing.T, id, want string) map[string]any {
	t.Helper()
	var last map[string]any
	require.Eventually(t, func() bool {
		resp, err := http.Get(h.server.URL + "/api/job/" + id)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		last = nil
		if err := json.NewDecoder(resp.Body).Decode(&last); err != nil {
			return false
		}
		return last["status"] == want
	}, 3*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return last
}

func (h *harness) jobDirs(t *testing.T) int {
	t.Helper()
	entries, err := afero.ReadDir(h.fs, h.root)
	require.NoError(t, err)
	return len(entries)
}

func TestDownloadFlow(t *testing.T) {
	h := newHarness(t)

	gomock.InOrder(
		h.ext.EXPECT().Probe(gomock.Any(), testURL).Return(&extract.VideoMetadata{
			Title:     title,
			Formats:   []extract.Format{{FormatID: "18"}, {FormatID: "22"}},
			FormatIDs: []string{"18", "22"},
		}, nil),
		h.ext.EXPECT().
			Download(gomock.Any(), testURL, "22+bestaudio/best", gomock.Any()).
			DoAndReturn(func(_ context.Context, _, _, dir string) (string, error) {
				path := filepath.Join(dir, title+".mp4")
				return path, afero.WriteFile(h.fs, path, []byte("mp4-data"), 0o644)
			}),
	)

	id := h.submit(t, map[string]string{"url": testURL, "format_id": "22"})
	status := h.waitStatus(t, id, "completed")
	assert.Equal(t, title+".mp4", status["filename"])
	assert.NotContains(t, status, "error")

	resp := h.get(t, "/api/job/"+id+"/result")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="`+title+`.mp4"`, resp.Header.Get("Content-Disposition"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "mp4-data", string(body))

	// Delivery reclaims the job and its directory
	h.waitStatus(t, id, "expired")
	assert.Zero(t, h.jobDirs(t))

	resp = h.get(t, "/api/job/"+id+"/result")
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	resp = h.get(t, "/api/job/"+id+"/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var trail struct {
		Items []api.EventResponse `json:"items"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&trail))
	var seen []string
	created := 0
	for _, e := range trail.Items {
		switch e.EventType {
		case events.EventJobStatusChanged:
			seen = append(seen, e.To)
		case events.EventJobCreated:
			created++
		}
	}
	assert.Equal(t, []string{"probing", "downloading", "completed", "expired"}, seen)
	assert.Equal(t, 1, created)
	assert.Equal(t, "delivered", trail.Items[len(trail.Items)-1].Reason)
}

func TestDownloadFlow_ToolFailure(t *testing.T) {
	h := newHarness(t)

	h.ext.EXPECT().
		Download(gomock.Any(), testURL, "bestvideo+bestaudio/best", gomock.Any()).
		Return("", &extract.ToolError{Kind: extract.ErrDownload, Message: "ERROR: Requested format is not available"})

	id := h.submit(t, map[string]string{"url": testURL})
	status := h.waitStatus(t, id, "failed")
	assert.Equal(t, "download", status["error_kind"])
	assert.Equal(t, "ERROR: Requested format is not available", status["error"])
	assert.Zero(t, h.jobDirs(t), "temp dir removed on failure")

	resp := h.get(t, "/api/job/"+id+"/result")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var e struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Equal(t, api.CodeDownload, e.Code)
	assert.Equal(t, "ERROR: Requested format is not available", e.Error)
}

func TestDownloadFlow_ResultNotReady(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	h.ext.EXPECT().
		Download(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _, _, _ string) (string, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return "", &extract.ToolError{Kind: extract.ErrDownload, Message: "stopped"}
		}).
		AnyTimes()

	id := h.submit(t, map[string]string{"url": testURL})
	h.waitStatus(t, id, "downloading")

	resp := h.get(t, "/api/job/"+id+"/result")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, h.server.URL+"/api/job/"+id, nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = del.Body.Close()
	assert.Equal(t, http.StatusConflict, del.StatusCode, "running jobs are not cancellable")
}

func TestInfo_MissingURL(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/api/info", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Equal(t, "URL is required", e.Error)
}

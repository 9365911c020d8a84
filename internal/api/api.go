// Package api implements the HTTP/JSON surface of the download service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vmunix/grabbr/internal/events"
	"github.com/vmunix/grabbr/internal/extract"
	"github.com/vmunix/grabbr/internal/job"
	"github.com/vmunix/grabbr/internal/manager"
	"github.com/vmunix/grabbr/pkg/filename"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// Config holds API server configuration.
type Config struct {
	// CompatBlocking makes POST /api/download wait for the job and stream
	// the file, as if every request carried ?wait=true.
	CompatBlocking bool

	// RequestsPerSecond limits requests across all clients. Zero disables it.
	RequestsPerSecond float64
	Burst             int
}

// Server is the API server.
type Server struct {
	deps     ServerDeps
	cfg      Config
	registry *events.Registry
	log      *slog.Logger
}

// New creates a new API server.
func New(deps ServerDeps, cfg Config, log *slog.Logger) (*Server, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingDependency, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		deps:     deps,
		cfg:      cfg,
		registry: events.DefaultRegistry(),
		log:      log.With("component", "api"),
	}, nil
}

// RegisterRoutes registers API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/info", s.info)
	mux.HandleFunc("POST /api/download", s.download)

	// Jobs
	mux.HandleFunc("GET /api/jobs", s.listJobs)
	mux.HandleFunc("GET /api/job/{id}", s.getJob)
	mux.HandleFunc("DELETE /api/job/{id}", s.deleteJob)
	mux.HandleFunc("GET /api/job/{id}/result", s.getResult)
	mux.HandleFunc("GET /api/job/{id}/events", s.listJobEvents)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

// Handler returns the routes wrapped in logging, panic recovery and rate
// limiting.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(s.recoverPanic(s.rateLimit(mux)))
}

// Error response
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Code: errCode})
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

// writeErr writes err using the service error taxonomy.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	code, errCode := errorStatus(err)
	if code == http.StatusInternalServerError && errCode == CodeInternal {
		s.log.Error("request failed", "error", err)
	}
	writeError(w, code, errCode, errorMessage(err))
}

// decodeJSON reads a JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, err.Error())
		return false
	}
	return true
}

// queryInt extracts an optional integer from query string.
func queryInt(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	var req infoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		writeError(w, http.StatusBadRequest, CodeMissingParameter, manager.ErrMissingURL.Error())
		return
	}

	switch req.Sort {
	case "", "quality":
	default:
		writeError(w, http.StatusBadRequest, CodeInvalidParameter, "sort must be 'quality' or empty")
		return
	}

	meta, err := s.deps.Prober.Probe(r.Context(), url)
	if err != nil {
		s.log.Warn("probe failed", "url", url, "error", err)
		s.writeErr(w, err)
		return
	}
	if meta.Formats == nil {
		meta.Formats = []extract.Format{}
	}
	if req.Sort == "quality" {
		meta.Formats = extract.RankFormats(meta.Formats)
	}

	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	j, err := s.deps.Jobs.Submit(r.Context(), req.URL, req.FormatID)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	if !s.blocking(r) {
		writeJSON(w, http.StatusAccepted, submitResponse{JobID: j.ID, Status: string(j.Status)})
		return
	}

	if _, err := s.deps.Jobs.Wait(r.Context(), j.ID); err != nil {
		if r.Context().Err() != nil {
			s.log.Info("client left before job finished", "job_id", j.ID)
			return
		}
		s.writeErr(w, err)
		return
	}
	s.serveResult(w, j.ID)
}

// blocking reports whether a download request should wait for its file.
func (s *Server) blocking(r *http.Request) bool {
	if s.cfg.CompatBlocking {
		return true
	}
	wait, err := strconv.ParseBool(r.URL.Query().Get("wait"))
	return err == nil && wait
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := job.Filter{Limit: queryInt(r, "limit", 0)}
	if filter.Limit < 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidParameter, "limit must be non-negative")
		return
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st, ok := job.ParseStatus(v)
		if !ok {
			writeError(w, http.StatusBadRequest, CodeInvalidParameter, fmt.Sprintf("unknown status %q", v))
			return
		}
		filter.Status = &st
	}

	jobs, err := s.deps.Jobs.List(filter)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	resp := listJobsResponse{
		Items: make([]jobResponse, len(jobs)),
		Total: len(jobs),
	}
	for i, j := range jobs {
		resp.Items[i] = jobToResponse(j)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.deps.Jobs.Get(r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(j))
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Jobs.Cancel(r.PathValue("id")); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	s.serveResult(w, r.PathValue("id"))
}

// serveResult streams a completed job's file and reclaims the job once the
// whole file was written. An interrupted stream leaves the job retrievable.
func (s *Server) serveResult(w http.ResponseWriter, id string) {
	res, err := s.deps.Jobs.Result(id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	defer func() { _ = res.File.Close() }()

	name := res.Job.Filename
	w.Header().Set("Content-Type", contentType(name))
	w.Header().Set("Content-Disposition", filename.Disposition(name))
	w.Header().Set("Content-Length", strconv.FormatInt(res.Info.Size(), 10))
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, res.File)
	if err != nil || n != res.Info.Size() {
		s.log.Warn("result stream interrupted", "job_id", id, "written", n, "error", err)
		return
	}
	_ = res.File.Close()

	if err := s.deps.Jobs.Reclaim(id, manager.ReasonDelivered); err != nil && !errors.Is(err, job.ErrNotFound) {
		s.log.Warn("failed to reclaim delivered job", "job_id", id, "error", err)
	}
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Jobs.Stats()
	if err != nil {
		s.writeErr(w, err)
		return
	}

	counts := make(map[string]int, len(stats.Counts))
	for st, n := range stats.Counts {
		counts[string(st)] = n
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:        "ok",
		Counts:        counts,
		Workers:       stats.Workers,
		Busy:          stats.Busy,
		QueueDepth:    stats.QueueDepth,
		QueueCapacity: stats.QueueCapacity,
	})
}

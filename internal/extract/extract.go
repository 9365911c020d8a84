// Package extract wraps the yt-dlp command line tool: probing a URL for
// its metadata and downloading a selected format as mp4.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// DefaultProbeTimeout bounds a metadata probe when none is configured.
const DefaultProbeTimeout = time.Minute

// Format describes one downloadable rendition. Nullable fields are nil
// when the tool did not report them.
type Format struct {
	FormatID   string  `json:"format_id"`
	Ext        string  `json:"ext"`
	Resolution *string `json:"resolution"`
	Filesize   *int64  `json:"filesize"`
	Note       *string `json:"note"`
	VCodec     string  `json:"vcodec"`
	ACodec     string  `json:"acodec"`

	Height *int `json:"-"`
}

// VideoMetadata is the probe result for a URL.
type VideoMetadata struct {
	Title     string   `json:"title"`
	Thumbnail string   `json:"thumbnail"`
	Duration  *float64 `json:"duration"`
	Formats   []Format `json:"formats"`

	// FormatIDs lists every id the tool reported, audio-only included.
	FormatIDs []string `json:"-"`
}

// Offers reports whether the tool can download format id for this URL.
func (m *VideoMetadata) Offers(id string) bool {
	for _, fid := range m.FormatIDs {
		if fid == id {
			return true
		}
	}
	return false
}

// ytdlpFormat mirrors the fields read from the tool's JSON dump.
type ytdlpFormat struct {
	FormatID       string   `json:"format_id"`
	Ext            string   `json:"ext"`
	Resolution     *string  `json:"resolution"`
	Filesize       *float64 `json:"filesize"`
	FilesizeApprox *float64 `json:"filesize_approx"`
	FormatNote     *string  `json:"format_note"`
	VCodec         *string  `json:"vcodec"`
	ACodec         *string  `json:"acodec"`
	Height         *float64 `json:"height"`
}

type ytdlpInfo struct {
	Title     string        `json:"title"`
	Thumbnail string        `json:"thumbnail"`
	Duration  *float64      `json:"duration"`
	Formats   []ytdlpFormat `json:"formats"`
}

// Tool invokes the yt-dlp executable.
type Tool struct {
	path         string
	extraArgs    []string
	probeTimeout time.Duration
	log          *slog.Logger
}

// Options configures a Tool.
type Options struct {
	Path         string        // executable, default "yt-dlp"
	ExtraArgs    []string      // prepended to every invocation
	ProbeTimeout time.Duration // default DefaultProbeTimeout
}

// New creates a Tool.
func New(opts Options, log *slog.Logger) *Tool {
	if opts.Path == "" {
		opts.Path = "yt-dlp"
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Tool{
		path:         opts.Path,
		extraArgs:    opts.ExtraArgs,
		probeTimeout: opts.ProbeTimeout,
		log:          log.With("component", "extract"),
	}
}

// Probe asks the tool for the metadata of url without downloading it.
// Formats keep the tool's order; entries whose vcodec is "none" are dropped.
func (t *Tool) Probe(ctx context.Context, url string) (*VideoMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, t.probeTimeout)
	defer cancel()

	cmd := t.command().
		DumpSingleJSON().
		SkipDownload().
		NoPlaylist()
	stdout, err := t.run(ctx, cmd, ErrExtraction, url)
	if err != nil {
		return nil, err
	}

	var info ytdlpInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		return nil, &ToolError{Kind: ErrExtraction, Message: "could not parse tool output", Err: err}
	}
	return toMetadata(&info), nil
}

func toMetadata(info *ytdlpInfo) *VideoMetadata {
	meta := &VideoMetadata{
		Title:     info.Title,
		Thumbnail: info.Thumbnail,
		Duration:  info.Duration,
		Formats:   make([]Format, 0, len(info.Formats)),
		FormatIDs: make([]string, 0, len(info.Formats)),
	}
	for _, f := range info.Formats {
		meta.FormatIDs = append(meta.FormatIDs, f.FormatID)
		if f.VCodec != nil && *f.VCodec == "none" {
			continue
		}
		out := Format{
			FormatID:   f.FormatID,
			Ext:        f.Ext,
			Resolution: f.Resolution,
			Note:       f.FormatNote,
			VCodec:     deref(f.VCodec),
			ACodec:     deref(f.ACodec),
		}
		size := f.Filesize
		if size == nil {
			size = f.FilesizeApprox
		}
		if size != nil {
			n := int64(*size)
			out.Filesize = &n
		}
		if f.Height != nil {
			h := int(*f.Height)
			out.Height = &h
		}
		meta.Formats = append(meta.Formats, out)
	}
	return meta
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Download fetches url in the given format selector into dir, merging and
// converting to mp4, and returns the path of the produced file.
func (t *Tool) Download(ctx context.Context, url, selector, dir string) (string, error) {
	cmd := t.command().
		NoPlaylist().
		Format(selector).
		Output(filepath.Join(dir, "%(title)s.%(ext)s")).
		MergeOutputFormat("mp4").
		RecodeVideo("mp4").
		NoSimulate().
		Print("after_move:filepath")
	stdout, err := t.run(ctx, cmd, ErrDownload, url)
	if err != nil {
		return "", err
	}

	if path := lastLine(stdout); path != "" && within(path, dir) {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}

	path, err := findOutput(dir)
	if err != nil {
		return "", &ToolError{Kind: ErrDownload, Message: err.Error(), Err: err}
	}
	return path, nil
}

// command starts a quiet invocation of the configured executable.
// Commands accumulate flags, so every call builds a fresh one.
func (t *Tool) command() *ytdlp.Command {
	return ytdlp.New().
		SetExecutable(t.path).
		Quiet().
		NoWarnings()
}

// run executes cmd for url and returns stdout. Failures are reported as a
// *ToolError of the given kind carrying the tool's error message.
func (t *Tool) run(ctx context.Context, cmd *ytdlp.Command, kind error, url string) (string, error) {
	args := make([]string, 0, len(t.extraArgs)+2)
	args = append(args, t.extraArgs...)
	args = append(args, "--", url)

	start := time.Now()
	t.log.Debug("running tool", "url", url, "extra_args", t.extraArgs)
	res, err := cmd.Run(ctx, args...)
	if err == nil {
		t.log.Debug("tool finished", "duration", time.Since(start))
		return res.Stdout, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		msg := "operation timed out"
		if errors.Is(ctxErr, context.Canceled) {
			msg = "operation cancelled"
		}
		return "", &ToolError{Kind: kind, Message: msg, Err: ctxErr}
	}

	msg := ""
	if res != nil {
		msg = toolMessage(res.Stderr)
	}
	if msg == "" {
		msg = fmt.Sprintf("%s: %v", filepath.Base(t.path), err)
	}
	t.log.Warn("tool failed", "error", msg, "duration", time.Since(start))
	return "", &ToolError{Kind: kind, Message: msg, Err: err}
}

// toolMessage picks the most useful line from the tool's stderr: the last
// "ERROR:" line, or the last non-empty line.
func toolMessage(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); strings.HasPrefix(line, "ERROR:") {
			return line
		}
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// within reports whether path is inside dir.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// partialSuffixes mark files the tool leaves behind mid-download.
var partialSuffixes = []string{".part", ".ytdl", ".temp", ".tmp"}

// findOutput locates the produced media file in dir when the tool did not
// print its path. An mp4 wins when several candidates exist.
func findOutput(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read output dir: %w", err)
	}

	var candidates []string
	for _, e := range entries {
		if !e.Type().IsRegular() || isPartial(e.Name()) {
			continue
		}
		candidates = append(candidates, filepath.Join(dir, e.Name()))
	}

	switch len(candidates) {
	case 0:
		return "", errors.New("tool reported success but produced no file")
	case 1:
		return candidates[0], nil
	}
	for _, c := range candidates {
		if strings.EqualFold(filepath.Ext(c), ".mp4") {
			return c, nil
		}
	}
	return "", fmt.Errorf("tool produced %d files and none is mp4", len(candidates))
}

func isPartial(name string) bool {
	for _, s := range partialSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

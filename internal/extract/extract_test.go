package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

// fakeTool writes an executable shell script standing in for yt-dlp.
// The script records its arguments, one per line, in the returned file.
func fakeTool(t *testing.T, body string) (path, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool is a shell script")
	}
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	path = filepath.Join(dir, "yt-dlp")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > '" + argsFile + "'\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path, argsFile
}

func readArgs(t *testing.T, argsFile string) []string {
	t.Helper()
	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

// flagValue returns the argument following the first of names found in args.
func flagValue(args []string, names ...string) (string, bool) {
	for i, a := range args[:len(args)-1] {
		for _, n := range names {
			if a == n {
				return args[i+1], true
			}
		}
	}
	return "", false
}

// hasFlag reports whether any of names appears in args.
func hasFlag(args []string, names ...string) bool {
	for _, a := range args {
		for _, n := range names {
			if a == n {
				return true
			}
		}
	}
	return false
}

// assertURLLast checks the URL is passed after the end-of-options marker.
func assertURLLast(t *testing.T, args []string) {
	t.Helper()
	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, []string{"--", testURL}, args[len(args)-2:])
}

// downloadScript emulates a successful download: it expands the output
// template, writes the file and prints its final path.
const downloadScript = `
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o|--output) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
path=$(printf '%s' "$out" | sed -e 's/%(title)s/Never Gonna Give You Up/' -e 's/%(ext)s/mp4/')
printf 'video' > "$path"
echo "$path"
`

func TestTool_Probe(t *testing.T) {
	fixture, err := filepath.Abs("testdata/info.json")
	require.NoError(t, err)
	bin, argsFile := fakeTool(t, "cat '"+fixture+"'\n")
	tool := New(Options{Path: bin}, nil)

	meta, err := tool.Probe(context.Background(), testURL)
	require.NoError(t, err)

	assert.Equal(t, "Never Gonna Give You Up", meta.Title)
	assert.Equal(t, "https://i.ytimg.com/vi/dQw4w9WgXcQ/maxresdefault.jpg", meta.Thumbnail)
	require.NotNil(t, meta.Duration)
	assert.InDelta(t, 212.0, *meta.Duration, 0.001)

	// Audio-only format 140 is filtered, tool order is kept
	ids := make([]string, 0, len(meta.Formats))
	for _, f := range meta.Formats {
		ids = append(ids, f.FormatID)
	}
	assert.Equal(t, []string{"18", "137", "22", "sb0"}, ids)
	assert.True(t, meta.Offers("140"), "audio-only ids stay downloadable")
	assert.False(t, meta.Offers("999"))

	f18 := meta.Formats[0]
	require.NotNil(t, f18.Resolution)
	assert.Equal(t, "640x360", *f18.Resolution)
	require.NotNil(t, f18.Filesize)
	assert.EqualValues(t, 11234567, *f18.Filesize)
	require.NotNil(t, f18.Note)
	assert.Equal(t, "360p", *f18.Note)
	assert.Equal(t, "avc1.42001E", f18.VCodec)

	// filesize falls back to filesize_approx
	require.NotNil(t, meta.Formats[1].Filesize)
	assert.EqualValues(t, 80123456, *meta.Formats[1].Filesize)

	// Unknown values stay nil
	assert.Nil(t, meta.Formats[2].Filesize)
	assert.Nil(t, meta.Formats[3].Resolution)
	assert.Empty(t, meta.Formats[3].VCodec, "missing vcodec is not audio-only")

	args := readArgs(t, argsFile)
	assert.True(t, hasFlag(args, "--dump-single-json", "-J"))
	for _, f := range []string{"--quiet", "--no-warnings", "--skip-download", "--no-playlist"} {
		assert.True(t, hasFlag(args, f), "missing %s", f)
	}
	assertURLLast(t, args)
}

func TestTool_Probe_ExtraArgs(t *testing.T) {
	fixture, err := filepath.Abs("testdata/info.json")
	require.NoError(t, err)
	bin, argsFile := fakeTool(t, "cat '"+fixture+"'\n")
	tool := New(Options{Path: bin, ExtraArgs: []string{"--cookies", "/etc/cookies.txt"}}, nil)

	_, err = tool.Probe(context.Background(), testURL)
	require.NoError(t, err)

	args := readArgs(t, argsFile)
	require.GreaterOrEqual(t, len(args), 4)
	assert.Equal(t, []string{"--cookies", "/etc/cookies.txt", "--", testURL}, args[len(args)-4:],
		"extra args come right before the URL")
}

func TestTool_Probe_ToolFailure(t *testing.T) {
	bin, _ := fakeTool(t, `
echo "WARNING: [generic] Falling back on generic information extractor" >&2
echo "ERROR: Unsupported URL: https://example.com/nothing" >&2
exit 1
`)
	tool := New(Options{Path: bin}, nil)

	_, err := tool.Probe(context.Background(), "https://example.com/nothing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtraction)
	assert.NotErrorIs(t, err, ErrDownload)

	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "ERROR: Unsupported URL: https://example.com/nothing", te.Message)
}

func TestTool_Probe_BadJSON(t *testing.T) {
	bin, _ := fakeTool(t, "echo 'not json'\n")
	tool := New(Options{Path: bin}, nil)

	_, err := tool.Probe(context.Background(), testURL)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestTool_Probe_Timeout(t *testing.T) {
	bin, _ := fakeTool(t, "exec sleep 10\n")
	tool := New(Options{Path: bin, ProbeTimeout: 100 * time.Millisecond}, nil)

	start := time.Now()
	_, err := tool.Probe(context.Background(), testURL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtraction)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second, "process should be killed")
}

func TestTool_Probe_MissingBinary(t *testing.T) {
	tool := New(Options{Path: filepath.Join(t.TempDir(), "no-such-tool")}, nil)

	_, err := tool.Probe(context.Background(), testURL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestTool_Download(t *testing.T) {
	bin, argsFile := fakeTool(t, downloadScript)
	tool := New(Options{Path: bin}, nil)
	dir := t.TempDir()

	path, err := tool.Download(context.Background(), testURL, Selector("22"), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Never Gonna Give You Up.mp4"), path)
	assert.FileExists(t, path)

	args := readArgs(t, argsFile)
	tmpl := filepath.Join(dir, "%(title)s.%(ext)s")
	for _, tt := range []struct {
		names []string
		want  string
	}{
		{[]string{"--format", "-f"}, "22+bestaudio/best"},
		{[]string{"--output", "-o"}, tmpl},
		{[]string{"--print", "-O"}, "after_move:filepath"},
		{[]string{"--merge-output-format"}, "mp4"},
		{[]string{"--recode-video"}, "mp4"},
	} {
		got, ok := flagValue(args, tt.names...)
		require.True(t, ok, "missing %s", tt.names[0])
		assert.Equal(t, tt.want, got)
	}
	for _, f := range []string{"--quiet", "--no-warnings", "--no-playlist", "--no-simulate"} {
		assert.True(t, hasFlag(args, f), "missing %s", f)
	}
	assertURLLast(t, args)
}

func TestTool_Download_FallsBackToScan(t *testing.T) {
	dir := t.TempDir()
	bin, _ := fakeTool(t, "printf 'x' > '"+filepath.Join(dir, "clip.mp4.part")+"'\nprintf 'video' > '"+filepath.Join(dir, "clip.mp4")+"'\n")
	tool := New(Options{Path: bin}, nil)

	path, err := tool.Download(context.Background(), testURL, Selector(""), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip.mp4"), path)
}

func TestTool_Download_IgnoresPathOutsideDir(t *testing.T) {
	dir := t.TempDir()
	bin, _ := fakeTool(t, "printf 'video' > '"+filepath.Join(dir, "clip.mp4")+"'\necho /etc/passwd\n")
	tool := New(Options{Path: bin}, nil)

	path, err := tool.Download(context.Background(), testURL, Selector(""), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip.mp4"), path)
}

func TestTool_Download_NoOutput(t *testing.T) {
	bin, _ := fakeTool(t, "exit 0\n")
	tool := New(Options{Path: bin}, nil)

	_, err := tool.Download(context.Background(), testURL, Selector(""), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDownload)
	assert.Contains(t, err.Error(), "produced no file")
}

func TestTool_Download_ToolFailure(t *testing.T) {
	bin, _ := fakeTool(t, "echo 'ERROR: [youtube] dQw4w9WgXcQ: Requested format is not available' >&2\nexit 1\n")
	tool := New(Options{Path: bin}, nil)

	_, err := tool.Download(context.Background(), testURL, Selector("999"), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDownload)
	assert.Equal(t, "ERROR: [youtube] dQw4w9WgXcQ: Requested format is not available", err.Error())
}

func TestTool_Download_Cancelled(t *testing.T) {
	bin, _ := fakeTool(t, "exec sleep 10\n")
	tool := New(Options{Path: bin}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := tool.Download(ctx, testURL, Selector(""), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDownload)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestToolMessage(t *testing.T) {
	assert.Equal(t, "ERROR: boom", toolMessage("WARNING: a\nERROR: boom\nsome trailer\n"))
	assert.Equal(t, "last line", toolMessage("first\nlast line\n"))
	assert.Equal(t, "", toolMessage(""))
}

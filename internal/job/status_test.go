package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo_ValidTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{StatusPending, StatusProbing},
		{StatusPending, StatusFailed},  // startup recovery
		{StatusPending, StatusExpired}, // cancelled before a worker picked it up
		{StatusProbing, StatusDownloading},
		{StatusProbing, StatusFailed},
		{StatusProbing, StatusExpired},
		{StatusDownloading, StatusCompleted},
		{StatusDownloading, StatusFailed},
		{StatusDownloading, StatusExpired},
		{StatusCompleted, StatusExpired},
		{StatusFailed, StatusExpired},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.True(t, tt.from.CanTransitionTo(tt.to),
				"%s should be able to transition to %s", tt.from, tt.to)
		})
	}
}

func TestCanTransitionTo_InvalidTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{StatusPending, StatusDownloading},   // skip probing
		{StatusPending, StatusCompleted},     // skip multiple
		{StatusProbing, StatusPending},       // backwards
		{StatusProbing, StatusCompleted},     // skip downloading
		{StatusDownloading, StatusProbing},   // backwards
		{StatusCompleted, StatusFailed},      // outcome is settled
		{StatusCompleted, StatusDownloading}, // backwards
		{StatusFailed, StatusPending},        // no retries
		{StatusFailed, StatusCompleted},
		{StatusExpired, StatusPending}, // terminal
		{StatusExpired, StatusFailed},  // terminal
		{StatusExpired, StatusExpired}, // terminal
		{Status("bogus"), StatusPending},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.False(t, tt.from.CanTransitionTo(tt.to),
				"%s should NOT be able to transition to %s", tt.from, tt.to)
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusPending:     false,
		StatusProbing:     false,
		StatusDownloading: false,
		StatusCompleted:   true,
		StatusFailed:      true,
		StatusExpired:     true,
	}
	for s, want := range terminal {
		assert.Equal(t, want, s.IsTerminal(), "IsTerminal(%s)", s)
	}
}

func TestIsActive(t *testing.T) {
	assert.True(t, StatusProbing.IsActive())
	assert.True(t, StatusDownloading.IsActive())
	assert.False(t, StatusPending.IsActive())
	assert.False(t, StatusCompleted.IsActive())
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus("downloading")
	assert.True(t, ok)
	assert.Equal(t, StatusDownloading, s)

	_, ok = ParseStatus("queued")
	assert.False(t, ok)
}

func TestJob_Failure(t *testing.T) {
	j := &Job{Status: StatusFailed, ErrorKind: KindDownload, Error: "HTTP Error 403"}
	f := j.Failure()
	if assert.NotNil(t, f) {
		assert.Equal(t, KindDownload, f.Kind)
		assert.Equal(t, "HTTP Error 403", f.Error())
	}

	j.Status = StatusCompleted
	assert.Nil(t, j.Failure())
}

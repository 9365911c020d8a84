package extract

import (
	"fmt"
	"sort"

	"github.com/hbollon/go-edlib"
)

// suggestThreshold is the minimum similarity for a format id suggestion.
const suggestThreshold = 0.7

// Selector builds the tool's format selector: the chosen video format
// merged with the best audio, or the best of both when none was chosen.
func Selector(formatID string) string {
	if formatID == "" {
		return "bestvideo+bestaudio/best"
	}
	return formatID + "+bestaudio/best"
}

// SuggestFormat returns the known format id most similar to id, or "" when
// nothing is close enough.
func SuggestFormat(id string, formats []Format) string {
	best := ""
	var bestScore float32
	for _, f := range formats {
		score := edlib.JaroWinklerSimilarity(id, f.FormatID)
		if score > bestScore {
			best, bestScore = f.FormatID, score
		}
	}
	if bestScore < suggestThreshold {
		return ""
	}
	return best
}

// UnavailableMessage explains that id is not offered, naming a close match.
func UnavailableMessage(id string, formats []Format) string {
	msg := fmt.Sprintf("requested format %q is not available", id)
	if s := SuggestFormat(id, formats); s != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", s)
	}
	return msg
}

// RankFormats returns a copy of formats ordered best first: by height, then
// by filesize, both descending. Unknown values sort last and ties keep the
// tool's order.
func RankFormats(formats []Format) []Format {
	ranked := make([]Format, len(formats))
	copy(ranked, formats)
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := compareDesc(height(ranked[i]), height(ranked[j])); c != 0 {
			return c < 0
		}
		return compareDesc(ranked[i].Filesize, ranked[j].Filesize) < 0
	})
	return ranked
}

func height(f Format) *int64 {
	if f.Height == nil {
		return nil
	}
	h := int64(*f.Height)
	return &h
}

// compareDesc orders known values before nil and larger before smaller.
func compareDesc(a, b *int64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a > *b:
		return -1
	case *a < *b:
		return 1
	}
	return 0
}

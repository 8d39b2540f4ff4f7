package crew

import (
	"strings"
	"unicode/utf8"

	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

// TruncationMarker is appended to output cut to its budget.
const TruncationMarker = "\n[output truncated]"

// Truncate cuts text to fit budget. The result, marker included, always
// fits the budget, so truncating it again returns it unchanged.
func Truncate(text string, budget models.OutputBudget) (string, bool) {
	if fits(text, budget) {
		return text, false
	}

	bytesAvail := -1
	if budget.Bytes > 0 {
		bytesAvail = budget.Bytes - len(TruncationMarker)
	}
	linesAvail := -1
	if budget.Lines > 0 {
		// The marker starts a new line.
		linesAvail = budget.Lines - 1
	}

	if (budget.Bytes > 0 && bytesAvail < 0) || (budget.Lines > 0 && linesAvail < 1) {
		// No room for the marker.
		return hardCut(text, budget.Bytes, budget.Lines), true
	}

	kept := text
	if linesAvail > 0 {
		kept = firstLines(kept, linesAvail)
	}
	if bytesAvail >= 0 {
		kept = cutBytes(kept, bytesAvail)
	}
	return kept + TruncationMarker, true
}

func fits(text string, b models.OutputBudget) bool {
	if b.Bytes > 0 && len(text) > b.Bytes {
		return false
	}
	if b.Lines > 0 && lineCount(text) > b.Lines {
		return false
	}
	return true
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

func hardCut(text string, maxBytes, maxLines int) string {
	if maxLines > 0 {
		text = firstLines(text, maxLines)
	}
	if maxBytes > 0 {
		text = cutBytes(text, maxBytes)
	}
	return text
}

func firstLines(s string, n int) string {
	idx := 0
	for i := 0; i < n; i++ {
		j := strings.IndexByte(s[idx:], '\n')
		if j < 0 {
			return s
		}
		idx += j + 1
	}
	return s[:idx-1]
}

// cutBytes trims s to at most n bytes without splitting a rune.
func cutBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

package workflow

import (
	"strings"
	"unicode/utf8"
)

const (
	MinReasonLen = 10
	MaxReasonLen = 100
)

// normalizeReason trims the reason and folds CRLF line endings, then checks
// its length in characters.
func normalizeReason(op, bugID, reason string) (string, error) {
	r := strings.TrimSpace(strings.ReplaceAll(reason, "\r\n", "\n"))
	n := utf8.RuneCountInString(r)
	if n < MinReasonLen || n > MaxReasonLen {
		return "", newErr(KindValidation, op, bugID,
			"reason must be %d to %d characters, got %d", MinReasonLen, MaxReasonLen, n)
	}
	return r, nil
}

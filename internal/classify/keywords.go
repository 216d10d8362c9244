// Package classify suggests a priority for a new bug report.
package classify

import (
	"context"
	"strings"
	"unicode"

	"github.com/joescharf/bugflow/internal/models"
)

// Classifier suggests a priority for a bug from its title and description.
type Classifier interface {
	Classify(ctx context.Context, title, description string) (models.Priority, error)
}

// Rules are checked in order; the first tier with a matching keyword wins.
var rules = []struct {
	priority models.Priority
	keywords []string
}{
	{models.PriorityCritical, []string{"crash", "loss", "unable", "break", "fail", "failure", "stops"}},
	{models.PriorityHigh, []string{"timeout", "not working", "error", "broken", "loading"}},
	{models.PriorityMedium, []string{"slow", "minor", "misaligned", "small bug"}},
	{models.PriorityLow, []string{"typo", "cosmetic", "ui", "spelling", "alignment"}},
}

// Keywords classifies by keyword. Keywords match at the start of a word, so
// "fail" matches "failed" but "ui" does not match "build". No match gives Medium.
func Keywords(title, description string) models.Priority {
	text := " " + normalize(title+" "+description) + " "
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, " "+kw) {
				return r.priority
			}
		}
	}
	return models.PriorityMedium
}

// normalize lower-cases s and turns punctuation into single spaces.
func normalize(s string) string {
	var sb strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			space = false
			continue
		}
		if !space {
			sb.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(sb.String())
}

// KeywordClassifier is a Classifier backed by Keywords.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(_ context.Context, title, description string) (models.Priority, error) {
	return Keywords(title, description), nil
}

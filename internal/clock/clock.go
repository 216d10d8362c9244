// Package clock supplies wall-clock time to the workflow engine and the
// alert evaluator. Production code injects Real(); tests inject a Fake.
package clock

import "time"

// Clock abstracts reading the current time.
type Clock interface {
	Now() time.Time
}

// Real returns a Clock backed by the time package, reporting UTC.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

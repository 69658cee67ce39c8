package policy

import (
	"fmt"
	"time"

	"github.com/ureca/billing-notifier/internal/domain"
)

// Window is a quiet interval between two wall-clock times. A window whose
// start is after its end crosses midnight (e.g. 22:00-08:00).
type Window struct {
	Start domain.TimeOfDay
	End   domain.TimeOfDay
}

// NewWindow parses "HH:MM" boundaries into a Window.
func NewWindow(start, end string) (Window, error) {
	s, err := domain.ParseTimeOfDay(start)
	if err != nil {
		return Window{}, fmt.Errorf("invalid window start: %w", err)
	}
	e, err := domain.ParseTimeOfDay(end)
	if err != nil {
		return Window{}, fmt.Errorf("invalid window end: %w", err)
	}
	return Window{Start: s, End: e}, nil
}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s", w.Start, w.End)
}

// Wraps reports whether the window crosses midnight.
func (w Window) Wraps() bool {
	return w.Start.MinuteOfDay() > w.End.MinuteOfDay()
}

// Contains reports whether t falls inside the quiet window. Membership is
// checked at second precision, so 22:00:30 is inside a window starting at
// 22:00. Boundaries are exclusive: sending at exactly the start or end
// second is allowed.
func (w Window) Contains(t time.Time) bool {
	sec := (t.Hour()*60+t.Minute())*60 + t.Second()
	start := w.Start.MinuteOfDay() * 60
	end := w.End.MinuteOfDay() * 60

	if w.Wraps() {
		return sec > start || sec < end
	}
	return sec > start && sec < end
}

// NextRelease returns the next occurrence of the window's end after from.
// For a message blocked at 23:00 by a 22:00-08:00 window this is 08:00 the
// following day; blocked at 02:00 it is 08:00 the same day.
func (w Window) NextRelease(from time.Time) time.Time {
	release := w.End.At(from)
	if !release.After(from) {
		release = release.AddDate(0, 0, 1)
	}
	return release
}

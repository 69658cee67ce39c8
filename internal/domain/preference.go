package domain

import (
	"fmt"
	"time"
)

// Default priority assigned when a preference row is created implicitly.
const DefaultPreferencePriority = 1

// Preference is a per-user, per-channel notification setting: whether the
// channel is enabled and an optional personal quiet window.
type Preference struct {
	ID         int64
	UserID     int64
	Channel    Channel
	Enabled    bool
	Priority   int
	QuietStart *TimeOfDay
	QuietEnd   *TimeOfDay
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (p *Preference) Validate() error {
	if p.UserID <= 0 {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if !p.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, p.Channel)
	}
	if (p.QuietStart == nil) != (p.QuietEnd == nil) {
		return fmt.Errorf("%w: quiet window requires both start and end", ErrValidation)
	}
	return nil
}

// HasQuietWindow reports whether a personal quiet window is configured.
func (p *Preference) HasQuietWindow() bool {
	return p.QuietStart != nil && p.QuietEnd != nil
}

package policy

import (
	"time"

	"github.com/ureca/billing-notifier/internal/domain"
)

// Reason explains a send-time decision.
type Reason string

const (
	ReasonAllowed         Reason = "ALLOWED"
	ReasonChannelDisabled Reason = "CHANNEL_DISABLED"
	ReasonUserQuietTime   Reason = "USER_QUIET_TIME"
	ReasonSystemPolicy    Reason = "SYSTEM_POLICY"
)

// Source identifies which rule level produced the decision.
type Source string

const (
	SourceUserPref     Source = "USER_PREF"
	SourceSystemPolicy Source = "SYSTEM_POLICY"
)

// Decision is the outcome of resolving send-time policy for one message.
// Window is the interval that produced the block (or would have, when
// allowed); for a disabled channel it falls back to the system window so a
// deferred release time can still be computed.
type Decision struct {
	Blocked bool
	Reason  Reason
	Source  Source
	Window  Window
}

// SnapshotSource exposes a point-in-time view of user preferences. Lookups
// must be safe for concurrent use across batch workers.
type SnapshotSource interface {
	Lookup(userID int64, channel domain.Channel) (domain.Preference, bool)
}

// Resolver decides whether a notification may be sent at a given time.
// It is a pure function of the preference snapshot, the system window, and
// the clock; it performs no I/O.
type Resolver struct {
	system Window
	prefs  SnapshotSource
}

func NewResolver(system Window, prefs SnapshotSource) *Resolver {
	return &Resolver{system: system, prefs: prefs}
}

// SystemWindow returns the system-wide default quiet window.
func (r *Resolver) SystemWindow() Window {
	return r.system
}

// Resolve applies the two-level precedence: a per-user preference (disabled
// channel, then personal quiet window) wins over the system-wide window,
// which applies only when the user has no preference row at all.
func (r *Resolver) Resolve(userID int64, channel domain.Channel, at time.Time) Decision {
	if r.prefs != nil {
		if pref, ok := r.prefs.Lookup(userID, channel); ok {
			if !pref.Enabled {
				// No user window applies here; keep the system window so
				// deferral still has a deterministic release time.
				return Decision{Blocked: true, Reason: ReasonChannelDisabled, Source: SourceUserPref, Window: r.system}
			}

			if pref.HasQuietWindow() {
				window := Window{Start: *pref.QuietStart, End: *pref.QuietEnd}
				if window.Contains(at) {
					return Decision{Blocked: true, Reason: ReasonUserQuietTime, Source: SourceUserPref, Window: window}
				}
				return Decision{Blocked: false, Reason: ReasonAllowed, Source: SourceUserPref, Window: window}
			}
			// Enabled preference without a personal window defers to the
			// system policy below.
		}
	}

	if r.system.Contains(at) {
		return Decision{Blocked: true, Reason: ReasonSystemPolicy, Source: SourceSystemPolicy, Window: r.system}
	}
	return Decision{Blocked: false, Reason: ReasonAllowed, Source: SourceSystemPolicy, Window: r.system}
}

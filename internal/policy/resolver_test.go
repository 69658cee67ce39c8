package policy

import (
	"testing"
	"time"

	"github.com/ureca/billing-notifier/internal/domain"
)

func mustWindow(t *testing.T, start, end string) Window {
	t.Helper()
	w, err := NewWindow(start, end)
	if err != nil {
		t.Fatalf("NewWindow(%s, %s) error = %v", start, end, err)
	}
	return w
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 7, 15, hour, minute, 0, 0, time.UTC)
}

func todPtr(t *testing.T, s string) *domain.TimeOfDay {
	t.Helper()
	tod, err := domain.ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("ParseTimeOfDay(%s) error = %v", s, err)
	}
	return &tod
}

func TestWindowContains(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		window Window
		at     time.Time
		want   bool
	}{
		{name: "wrap blocks late evening", window: mustWindow(t, "22:00", "08:00"), at: at(23, 30), want: true},
		{name: "wrap blocks early morning", window: mustWindow(t, "22:00", "08:00"), at: at(2, 0), want: true},
		{name: "wrap allows midday", window: mustWindow(t, "22:00", "08:00"), at: at(12, 0), want: false},
		{name: "wrap allows exact start", window: mustWindow(t, "22:00", "08:00"), at: at(22, 0), want: false},
		{name: "wrap blocks seconds past start", window: mustWindow(t, "22:00", "08:00"), at: at(22, 0).Add(30 * time.Second), want: true},
		{name: "wrap allows exact end", window: mustWindow(t, "22:00", "08:00"), at: at(8, 0), want: false},
		{name: "wrap blocks seconds before end", window: mustWindow(t, "22:00", "08:00"), at: at(7, 59).Add(30 * time.Second), want: true},
		{name: "plain blocks midday", window: mustWindow(t, "09:00", "18:00"), at: at(12, 0), want: true},
		{name: "plain allows evening", window: mustWindow(t, "09:00", "18:00"), at: at(20, 0), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.window.Contains(tt.at); got != tt.want {
				t.Fatalf("Contains(%s) = %v, want %v", tt.at.Format("15:04:05"), got, tt.want)
			}
		})
	}
}

func TestWindowNextRelease(t *testing.T) {
	t.Parallel()

	window := mustWindow(t, "22:00", "08:00")

	// Blocked at 23:00: release is 08:00 the following day.
	release := window.NextRelease(at(23, 0))
	want := time.Date(2026, 7, 16, 8, 0, 0, 0, time.UTC)
	if !release.Equal(want) {
		t.Fatalf("NextRelease(23:00) = %s, want %s", release, want)
	}

	// Blocked at 02:00: release is 08:00 the same day.
	release = window.NextRelease(at(2, 0))
	want = time.Date(2026, 7, 15, 8, 0, 0, 0, time.UTC)
	if !release.Equal(want) {
		t.Fatalf("NextRelease(02:00) = %s, want %s", release, want)
	}

	// Release is always in the future relative to the block time.
	if !release.After(at(2, 0)) {
		t.Fatal("release must be after the block time")
	}
}

func TestResolverPrecedence(t *testing.T) {
	t.Parallel()

	system := mustWindow(t, "22:00", "08:00")

	tests := []struct {
		name        string
		pref        *domain.Preference
		at          time.Time
		wantBlocked bool
		wantReason  Reason
		wantSource  Source
	}{
		{
			name:        "disabled channel blocks regardless of time",
			pref:        &domain.Preference{UserID: 7, Channel: domain.ChannelEmail, Enabled: false, QuietStart: todPtr(t, "01:00"), QuietEnd: todPtr(t, "02:00")},
			at:          at(12, 0),
			wantBlocked: true,
			wantReason:  ReasonChannelDisabled,
			wantSource:  SourceUserPref,
		},
		{
			name:        "user quiet window blocks",
			pref:        &domain.Preference{UserID: 7, Channel: domain.ChannelEmail, Enabled: true, QuietStart: todPtr(t, "09:00"), QuietEnd: todPtr(t, "18:00")},
			at:          at(12, 0),
			wantBlocked: true,
			wantReason:  ReasonUserQuietTime,
			wantSource:  SourceUserPref,
		},
		{
			name:        "user quiet window allows outside",
			pref:        &domain.Preference{UserID: 7, Channel: domain.ChannelEmail, Enabled: true, QuietStart: todPtr(t, "09:00"), QuietEnd: todPtr(t, "18:00")},
			at:          at(20, 0),
			wantBlocked: false,
			wantReason:  ReasonAllowed,
			wantSource:  SourceUserPref,
		},
		{
			name:        "user window overrides system allowance",
			pref:        &domain.Preference{UserID: 7, Channel: domain.ChannelEmail, Enabled: true, QuietStart: todPtr(t, "22:00"), QuietEnd: todPtr(t, "08:00")},
			at:          at(23, 30),
			wantBlocked: true,
			wantReason:  ReasonUserQuietTime,
			wantSource:  SourceUserPref,
		},
		{
			name:        "no preference falls back to system block",
			pref:        nil,
			at:          at(23, 30),
			wantBlocked: true,
			wantReason:  ReasonSystemPolicy,
			wantSource:  SourceSystemPolicy,
		},
		{
			name:        "no preference falls back to system allow",
			pref:        nil,
			at:          at(12, 0),
			wantBlocked: false,
			wantReason:  ReasonAllowed,
			wantSource:  SourceSystemPolicy,
		},
		{
			name:        "enabled preference without window defers to system",
			pref:        &domain.Preference{UserID: 7, Channel: domain.ChannelEmail, Enabled: true},
			at:          at(23, 30),
			wantBlocked: true,
			wantReason:  ReasonSystemPolicy,
			wantSource:  SourceSystemPolicy,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			snap := Snapshot{}
			if tt.pref != nil {
				snap[PrefKey{UserID: tt.pref.UserID, Channel: tt.pref.Channel}] = *tt.pref
			}
			resolver := NewResolver(system, snap)

			decision := resolver.Resolve(7, domain.ChannelEmail, tt.at)
			if decision.Blocked != tt.wantBlocked {
				t.Fatalf("Blocked = %v, want %v", decision.Blocked, tt.wantBlocked)
			}
			if decision.Reason != tt.wantReason {
				t.Fatalf("Reason = %s, want %s", decision.Reason, tt.wantReason)
			}
			if decision.Source != tt.wantSource {
				t.Fatalf("Source = %s, want %s", decision.Source, tt.wantSource)
			}
		})
	}
}

func TestResolverBlockedDecisionCarriesWindow(t *testing.T) {
	t.Parallel()

	system := mustWindow(t, "22:00", "08:00")
	snap := Snapshot{
		{UserID: 7, Channel: domain.ChannelSMS}: {
			UserID:     7,
			Channel:    domain.ChannelSMS,
			Enabled:    true,
			QuietStart: todPtr(t, "20:00"),
			QuietEnd:   todPtr(t, "06:00"),
		},
	}
	resolver := NewResolver(system, snap)

	decision := resolver.Resolve(7, domain.ChannelSMS, at(21, 0))
	if !decision.Blocked {
		t.Fatal("expected block inside user window")
	}

	// The release time comes from the user's window end, not the system's.
	release := decision.Window.NextRelease(at(21, 0))
	want := time.Date(2026, 7, 16, 6, 0, 0, 0, time.UTC)
	if !release.Equal(want) {
		t.Fatalf("release = %s, want %s", release, want)
	}
}

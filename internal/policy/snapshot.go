package policy

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ureca/billing-notifier/internal/domain"
)

// PrefKey identifies one preference row inside a snapshot.
type PrefKey struct {
	UserID  int64
	Channel domain.Channel
}

// Snapshot is an immutable view of all user preferences at load time.
type Snapshot map[PrefKey]domain.Preference

// Lookup implements SnapshotSource.
func (s Snapshot) Lookup(userID int64, channel domain.Channel) (domain.Preference, bool) {
	pref, ok := s[PrefKey{UserID: userID, Channel: channel}]
	return pref, ok
}

// PreferenceLister loads every preference row from the persistent store.
type PreferenceLister interface {
	ListAll(ctx context.Context) ([]domain.Preference, error)
}

// SnapshotHolder holds the current preference snapshot and swaps it
// atomically on refresh. Reads never block writers and vice versa; workers
// resolving a batch always see one consistent snapshot.
type SnapshotHolder struct {
	prefs   PreferenceLister
	current atomic.Value
}

func NewSnapshotHolder(prefs PreferenceLister) *SnapshotHolder {
	h := &SnapshotHolder{prefs: prefs}
	h.current.Store(Snapshot{})
	return h
}

// Lookup implements SnapshotSource against the current snapshot.
func (h *SnapshotHolder) Lookup(userID int64, channel domain.Channel) (domain.Preference, bool) {
	return h.snapshot().Lookup(userID, channel)
}

// Len returns the number of rows in the current snapshot.
func (h *SnapshotHolder) Len() int {
	return len(h.snapshot())
}

// Refresh reloads all preferences and swaps the snapshot. On failure the
// previous snapshot stays in place.
func (h *SnapshotHolder) Refresh(ctx context.Context) error {
	if h.prefs == nil {
		return fmt.Errorf("preference lister is not configured")
	}

	rows, err := h.prefs.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load preference snapshot: %w", err)
	}

	next := make(Snapshot, len(rows))
	for _, pref := range rows {
		next[PrefKey{UserID: pref.UserID, Channel: pref.Channel}] = pref
	}

	h.current.Store(next)
	return nil
}

func (h *SnapshotHolder) snapshot() Snapshot {
	snap, _ := h.current.Load().(Snapshot)
	return snap
}

package notification

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository used by the memory storage
// driver and tests.
type MemoryRepository struct {
	mu            sync.Mutex
	preferences   map[string]Preferences
	notifications []ScheduledNotification
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{preferences: make(map[string]Preferences)}
}

// PutPreferences stores prefs, replacing existing ones.
func (r *MemoryRepository) PutPreferences(prefs Preferences) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferences[prefs.UserID] = prefs
}

// Notifications returns a copy of all stored notifications in insertion order.
func (r *MemoryRepository) Notifications() []ScheduledNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ScheduledNotification(nil), r.notifications...)
}

func (r *MemoryRepository) GetPreferences(_ context.Context, userID string) (*Preferences, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefs, ok := r.preferences[userID]
	if !ok {
		return nil, nil
	}
	return &prefs, nil
}

func (r *MemoryRepository) SetSnoozedUntil(_ context.Context, userID string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefs := r.preferences[userID]
	prefs.UserID = userID
	prefs.SnoozedUntil = &until
	r.preferences[userID] = prefs
	return nil
}

func (r *MemoryRepository) FindRecent(_ context.Context, userID string, typ Type, since time.Time) (*ScheduledNotification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *ScheduledNotification
	for i := range r.notifications {
		n := r.notifications[i]
		if n.UserID != userID || n.Type != typ || !holdsWindow(n, since) {
			continue
		}
		if found == nil || recentLess(*found, n) {
			found = &n
		}
	}
	return found, nil
}

func holdsWindow(n ScheduledNotification, since time.Time) bool {
	if n.Sent {
		return n.SentAt != nil && !n.SentAt.Before(since)
	}
	return !n.Skipped && !n.ScheduledFor.Before(since)
}

// recentLess orders like FindRecent's SQL: sent first, then latest.
func recentLess(a, b ScheduledNotification) bool {
	if a.Sent != b.Sent {
		return b.Sent
	}
	return b.ScheduledFor.After(a.ScheduledFor)
}

func (r *MemoryRepository) Claim(_ context.Context, n *ScheduledNotification, since time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.notifications {
		if existing.UserID == n.UserID && existing.Type == n.Type && holdsWindow(existing, since) {
			return false, nil
		}
	}
	r.notifications = append(r.notifications, *n)
	return true, nil
}

func (r *MemoryRepository) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	r.update(id, func(n *ScheduledNotification) {
		n.Sent = true
		n.SentAt = &sentAt
		n.Attempts++
		n.LastError = nil
	})
	return nil
}

func (r *MemoryRepository) RecordFailure(_ context.Context, id string, message string) error {
	r.update(id, func(n *ScheduledNotification) {
		n.Attempts++
		n.LastError = &message
	})
	return nil
}

func (r *MemoryRepository) SkipUnsent(_ context.Context, userID string, typ Type, from, to time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for i := range r.notifications {
		n := &r.notifications[i]
		if n.UserID != userID || n.Type != typ || n.Sent || n.Skipped {
			continue
		}
		if n.ScheduledFor.Before(from) || n.ScheduledFor.After(to) {
			continue
		}
		n.Skipped = true
		count++
	}
	return count, nil
}

func (r *MemoryRepository) DeleteSince(_ context.Context, userID string, typ Type, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.notifications[:0]
	var count int64
	for _, n := range r.notifications {
		recent := !n.ScheduledFor.Before(since) || (n.SentAt != nil && !n.SentAt.Before(since))
		if n.Type == typ && recent && (userID == "" || n.UserID == userID) {
			count++
			continue
		}
		kept = append(kept, n)
	}
	r.notifications = kept
	return count, nil
}

func (r *MemoryRepository) update(id string, fn func(n *ScheduledNotification)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notifications {
		if r.notifications[i].ID == id {
			fn(&r.notifications[i])
			return
		}
	}
}

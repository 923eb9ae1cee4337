package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/domain"
)

// Memory is a process-local Store. It is safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	users     map[string]domain.User
	byAddr    map[string]string
	reminders map[string]domain.Reminder
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:     map[string]domain.User{},
		byAddr:    map[string]string{},
		reminders: map[string]domain.Reminder{},
		now:       utcNow,
	}
}

func addrKey(p domain.Platform, address string) string { return string(p) + "\x00" + address }

func (m *Memory) Close() error { return nil }

func (m *Memory) FindDue(_ context.Context, start, end time.Time) ([]domain.DueReminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.DueReminder
	for _, r := range m.reminders {
		if r.Status != domain.StatusPending || r.ScheduledAt.Before(start) || r.ScheduledAt.After(end) {
			continue
		}
		due := domain.DueReminder{Reminder: r}
		if u, ok := m.users[r.UserID]; ok {
			due.Platform = u.Platform
			due.Address = u.Address
			due.Timezone = u.Timezone
		}
		out = append(out, due)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) MarkSent(_ context.Context, id string) error {
	return m.setStatus(id, domain.StatusSent)
}

func (m *Memory) MarkFailed(_ context.Context, id string) error {
	return m.setStatus(id, domain.StatusFailed)
}

func (m *Memory) setStatus(id string, st domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return fmt.Errorf("reminder %s: %w", id, domain.ErrNotFound)
	}
	r.Status = st
	m.reminders[id] = r
	return nil
}

func (m *Memory) Create(_ context.Context, r domain.Reminder) (string, error) {
	if err := r.Recurrence.Validate(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, dup := m.reminders[r.ID]; dup {
		return "", fmt.Errorf("create reminder: duplicate id %s", r.ID)
	}
	if r.Status == "" {
		r.Status = domain.StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}
	r.ScheduledAt = r.ScheduledAt.UTC()
	m.reminders[r.ID] = r
	return r.ID, nil
}

func (m *Memory) ListPending(_ context.Context, userID string, limit int) ([]domain.Reminder, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Reminder
	for _, r := range m.reminders {
		if r.UserID == userID && r.Status == domain.StatusPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns a reminder by id.
func (m *Memory) Get(id string) (domain.Reminder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	return r, ok
}

// Reminders returns every stored reminder ordered by ScheduledAt.
func (m *Memory) Reminders() []domain.Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Reminder, 0, len(m.reminders))
	for _, r := range m.reminders {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// PutUser inserts or replaces a user record as-is.
func (m *Memory) PutUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.byAddr[addrKey(u.Platform, u.Address)] = u.ID
}

func (m *Memory) FindOrCreateUser(_ context.Context, platform domain.Platform, address, name string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byAddr[addrKey(platform, address)]; ok {
		return m.users[id], false, nil
	}
	u := domain.User{
		ID:        uuid.NewString(),
		Platform:  platform,
		Address:   address,
		Name:      name,
		CreatedAt: m.now(),
	}
	m.users[u.ID] = u
	m.byAddr[addrKey(platform, address)] = u.ID
	return u, true, nil
}

func (m *Memory) SetTimezone(_ context.Context, userID, zone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	u.Timezone = zone
	m.users[userID] = u
	return nil
}

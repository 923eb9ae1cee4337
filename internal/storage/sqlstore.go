package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/domain"
	logx "remindbot/pkg/logx"
)

// dialect captures the few differences between the SQL drivers.
type dialect struct {
	name         string
	dollarParams bool
}

var (
	dialectSQLite   = dialect{name: "sqlite"}
	dialectPostgres = dialect{name: "postgres", dollarParams: true}
)

// rebind rewrites '?' placeholders to $1..$n for dialects that need it.
func (d dialect) rebind(q string) string {
	if !d.dollarParams {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// sqlStore implements Store on database/sql for both SQL dialects.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
	now func() time.Time
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const dueQuery = `SELECT r.id, r.user_ref, r.text, r.original_text, r.scheduled_at, r.status,
	r.recurrence_type, r.recurrence_interval, r.created_at, r.parent_id,
	u.platform, u.platform_id, u.timezone
FROM reminders r
LEFT JOIN users u ON u.id = r.user_ref
WHERE r.status = ? AND r.scheduled_at >= ? AND r.scheduled_at <= ?`

func (s *sqlStore) FindDue(ctx context.Context, start, end time.Time) ([]domain.DueReminder, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(dueQuery),
		string(domain.StatusPending), start.UTC().UnixMilli(), end.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("%w: find due: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []domain.DueReminder
	for rows.Next() {
		var (
			due                         domain.DueReminder
			platform, address, timezone sql.NullString
		)
		r, err := scanReminder(rows, &platform, &address, &timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: scan due: %v", domain.ErrStoreUnavailable, err)
		}
		due.Reminder = r
		due.Platform = domain.Platform(platform.String)
		due.Address = address.String
		due.Timezone = timezone.String
		out = append(out, due)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: find due: %v", domain.ErrStoreUnavailable, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanReminder reads the reminder columns in dueQuery/listQuery order,
// followed by any extra destinations.
func scanReminder(row rowScanner, extra ...any) (domain.Reminder, error) {
	var (
		r                 domain.Reminder
		scheduled, create int64
		status            string
		recType, parentID sql.NullString
		recInterval       sql.NullInt64
	)
	dest := []any{&r.ID, &r.UserID, &r.Text, &r.OriginalText, &scheduled, &status,
		&recType, &recInterval, &create, &parentID}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Reminder{}, err
	}
	r.ScheduledAt = time.UnixMilli(scheduled).UTC()
	r.CreatedAt = time.UnixMilli(create).UTC()
	r.Status = domain.Status(status)
	r.ParentID = parentID.String
	// A malformed persisted rule must not hide the reminder; it is delivered
	// once with no successor and the engine logs the rule error.
	r.Recurrence = domain.Recurrence{Kind: domain.RecurrenceKind(recType.String), Interval: int(recInterval.Int64)}
	if recType.String == "none" {
		r.Recurrence = domain.None()
	}
	return r, nil
}

func (s *sqlStore) MarkSent(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, domain.StatusSent)
}

func (s *sqlStore) MarkFailed(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, domain.StatusFailed)
}

func (s *sqlStore) setStatus(ctx context.Context, id string, st domain.Status) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE reminders SET status = ? WHERE id = ?`), string(st), id)
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", st, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", st, id, err)
	}
	if n == 0 {
		return fmt.Errorf("reminder %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *sqlStore) Create(ctx context.Context, r domain.Reminder) (string, error) {
	if err := r.Recurrence.Validate(); err != nil {
		return "", err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = domain.StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	var recType, recInterval, parentID any
	if !r.Recurrence.IsNone() {
		recType = string(r.Recurrence.Kind)
		if r.Recurrence.Kind == domain.RecurInterval {
			recInterval = r.Recurrence.Interval
		}
	}
	if r.ParentID != "" {
		parentID = r.ParentID
	}
	_, err := s.db.ExecContext(ctx, s.d.rebind(`INSERT INTO reminders
		(id, user_ref, text, original_text, scheduled_at, status, recurrence_type, recurrence_interval, created_at, parent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.UserID, r.Text, r.OriginalText, r.ScheduledAt.UTC().UnixMilli(), string(r.Status),
		recType, recInterval, r.CreatedAt.UTC().UnixMilli(), parentID,
	)
	if err != nil {
		return "", fmt.Errorf("create reminder: %w", err)
	}
	return r.ID, nil
}

const listQuery = `SELECT id, user_ref, text, original_text, scheduled_at, status,
	recurrence_type, recurrence_interval, created_at, parent_id
FROM reminders
WHERE user_ref = ? AND status = ?
ORDER BY scheduled_at ASC
LIMIT ?`

func (s *sqlStore) ListPending(ctx context.Context, userID string, limit int) ([]domain.Reminder, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(listQuery), userID, string(domain.StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []domain.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) FindOrCreateUser(ctx context.Context, platform domain.Platform, address, name string) (domain.User, bool, error) {
	u, err := s.findUser(ctx, platform, address)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, false, err
	}

	u = domain.User{
		ID:        uuid.NewString(),
		Platform:  platform,
		Address:   address,
		Name:      name,
		CreatedAt: s.now(),
	}
	_, err = s.db.ExecContext(ctx, s.d.rebind(`INSERT INTO users (id, platform, platform_id, name, timezone, created_at)
		VALUES (?, ?, ?, ?, NULL, ?)`),
		u.ID, string(u.Platform), u.Address, u.Name, u.CreatedAt.UnixMilli(),
	)
	if err != nil {
		// Lost an insert race on (platform, platform_id): the row exists now.
		if existing, ferr := s.findUser(ctx, platform, address); ferr == nil {
			return existing, false, nil
		}
		return domain.User{}, false, fmt.Errorf("create user: %w", err)
	}
	return u, true, nil
}

func (s *sqlStore) findUser(ctx context.Context, platform domain.Platform, address string) (domain.User, error) {
	var (
		u       domain.User
		plat    string
		zone    sql.NullString
		created int64
	)
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT id, platform, platform_id, name, timezone, created_at
		FROM users WHERE platform = ? AND platform_id = ?`), string(platform), address).
		Scan(&u.ID, &plat, &u.Address, &u.Name, &zone, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("find user: %w", err)
	}
	u.Platform = domain.Platform(plat)
	u.Timezone = zone.String
	u.CreatedAt = time.UnixMilli(created).UTC()
	return u, nil
}

func (s *sqlStore) SetTimezone(ctx context.Context, userID, zone string) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE users SET timezone = ? WHERE id = ?`), zone, userID)
	if err != nil {
		return fmt.Errorf("set timezone: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set timezone: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	return nil
}

package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"msgarchive/internal/events"
	"msgarchive/internal/models"
)

// The first-stored message wins a timestamp tie.
const threadSummaryQuery = `SELECT phone, name, occurred_at, body FROM (
		SELECT m.phone, c.name, m.occurred_at, m.body,
			ROW_NUMBER() OVER (PARTITION BY m.phone ORDER BY m.occurred_at DESC, m.seq ASC) AS rn
		FROM messages m LEFT JOIN contacts c ON c.phone = m.phone
	) ranked
	WHERE rn = 1
	ORDER BY occurred_at DESC`

// ListThreads summarizes every conversation by its latest message,
// most recently active first.
func (s *Service) ListThreads(ctx context.Context) ([]models.ThreadSummary, error) {
	if cached, ok := s.cache.load(ctx); ok {
		return cached, nil
	}
	rows, err := s.db.QueryContext(ctx, threadSummaryQuery)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	threads := make([]models.ThreadSummary, 0)
	for rows.Next() {
		var (
			t    models.ThreadSummary
			name sql.NullString
			last dbTime
		)
		if err := rows.Scan(&t.Phone, &name, &last, &t.LastBody); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		if name.Valid {
			t.Name = &name.String
		}
		t.Last = last.Time
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	s.cache.store(ctx, threads)
	return threads, nil
}

// DeleteThread removes every message of a phone along with its contact.
// Deleting an empty thread succeeds with a zero count.
func (s *Service) DeleteThread(ctx context.Context, phone string) (int64, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return 0, invalid("phone_required", "Phone number is required")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE phone = ?`, phone)
	if err != nil {
		return 0, fmt.Errorf("delete thread: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("thread rows affected: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE phone = ?`, phone); err != nil {
		return deleted, fmt.Errorf("delete contact: %w", err)
	}
	s.changed(ctx, events.Event{Type: events.ThreadDeleted, Phone: phone, Count: deleted})
	return deleted, nil
}

// RenameThread sets (or clears, with a nil or blank name) the contact name
// of a phone. It returns how many messages changed name: every message of
// the thread, or zero when the thread is empty or already carries the name.
func (s *Service) RenameThread(ctx context.Context, phone string, name *string) (int64, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return 0, invalid("phone_required", "Phone number is required")
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE phone = ?`, phone).Scan(&count); err != nil {
		return 0, fmt.Errorf("count thread: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	name = normalizeName(name)
	current, err := s.contact(ctx, phone)
	switch {
	case errors.Is(err, ErrNotFound):
		if name == nil {
			return 0, nil
		}
	case err != nil:
		return 0, err
	case sameName(current.Name, name):
		return 0, nil
	}
	if err := s.upsertContact(ctx, phone, name); err != nil {
		return 0, err
	}
	s.changed(ctx, events.Event{Type: events.ThreadRenamed, Phone: phone, Count: count})
	return count, nil
}

func sameName(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

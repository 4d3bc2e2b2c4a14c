package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"msgarchive/internal/events"
	"msgarchive/internal/models"
)

// NewMessage is the input of Create.
type NewMessage struct {
	Phone     string
	Name      *string
	Body      string
	Direction models.Direction
}

// MessagePatch lists the fields Update may change. Nil Body leaves the body
// alone; SetName applies Name, where a nil Name clears the contact name.
type MessagePatch struct {
	Body    *string
	SetName bool
	Name    *string
}

// Create stores a message stamped with the current time.
func (s *Service) Create(ctx context.Context, in NewMessage) (*models.Message, error) {
	phone := strings.TrimSpace(in.Phone)
	if phone == "" || strings.TrimSpace(in.Body) == "" || in.Direction == "" {
		return nil, invalid("missing_fields", "Phone, body, and direction are required")
	}
	if !in.Direction.Valid() {
		return nil, invalid("invalid_direction", "Direction must be 'sent' or 'received'")
	}

	now := s.now()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, phone, body, direction, occurred_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, phone, in.Body, in.Direction, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if name := normalizeName(in.Name); name != nil {
		if err := s.upsertContact(ctx, phone, name); err != nil {
			return nil, err
		}
	}
	s.changed(ctx, events.Event{Type: events.MessageCreated, Phone: phone, ID: id})
	return s.Get(ctx, id)
}

// Get returns one message by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` WHERE m.id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// ListAll returns every message, most recent first.
func (s *Service) ListAll(ctx context.Context) ([]*models.Message, error) {
	return s.queryMessages(ctx, `SELECT `+messageColumns+` ORDER BY m.occurred_at DESC, m.seq DESC`)
}

// ListByPhone returns one thread in chat order, oldest first.
func (s *Service) ListByPhone(ctx context.Context, phone string) ([]*models.Message, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, invalid("phone_required", "Phone number is required")
	}
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` WHERE m.phone = ? ORDER BY m.occurred_at ASC, m.seq ASC`, phone)
}

func (s *Service) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Update applies the supplied fields to a message. A name change applies to
// the whole thread, since names belong to the phone's contact.
func (s *Service) Update(ctx context.Context, id string, patch MessagePatch) (*models.Message, error) {
	if patch.Body != nil && strings.TrimSpace(*patch.Body) == "" {
		return nil, invalid("invalid_body", "Body cannot be empty")
	}
	var phone string
	err := s.db.QueryRowContext(ctx, `SELECT phone FROM messages WHERE id = ?`, id).Scan(&phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup message: %w", err)
	}
	if patch.Body == nil && !patch.SetName {
		return s.Get(ctx, id)
	}

	if patch.Body != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE messages SET body = ? WHERE id = ?`, *patch.Body, id); err != nil {
			return nil, fmt.Errorf("update message: %w", err)
		}
	}
	if patch.SetName {
		if err := s.upsertContact(ctx, phone, normalizeName(patch.Name)); err != nil {
			return nil, err
		}
	}
	s.changed(ctx, events.Event{Type: events.MessageUpdated, Phone: phone, ID: id})
	return s.Get(ctx, id)
}

// Delete removes one message.
func (s *Service) Delete(ctx context.Context, id string) error {
	var phone string
	err := s.db.QueryRowContext(ctx, `SELECT phone FROM messages WHERE id = ?`, id).Scan(&phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lookup message: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("message rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	s.changed(ctx, events.Event{Type: events.MessageDeleted, Phone: phone, ID: id})
	return nil
}

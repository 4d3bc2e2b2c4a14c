package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"msgarchive/internal/models"
	"msgarchive/internal/storage"
)

func (s *Service) upsertContactSQL() string {
	if s.driver == storage.DriverMySQL {
		return `INSERT INTO contacts (phone, name, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE name = VALUES(name), updated_at = VALUES(updated_at)`
	}
	return `INSERT INTO contacts (phone, name, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`
}

func (s *Service) upsertContact(ctx context.Context, phone string, name *string) error {
	var value sql.NullString
	if name != nil {
		value = sql.NullString{String: *name, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, s.upsertContactSQL(), phone, value, s.now()); err != nil {
		return fmt.Errorf("store contact: %w", err)
	}
	return nil
}

// contact returns the contact row of a phone, or ErrNotFound.
func (s *Service) contact(ctx context.Context, phone string) (*models.Contact, error) {
	phone = strings.TrimSpace(phone)
	var (
		c       models.Contact
		name    sql.NullString
		updated dbTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT phone, name, updated_at FROM contacts WHERE phone = ?`, phone,
	).Scan(&c.Phone, &name, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	if name.Valid {
		c.Name = &name.String
	}
	c.UpdatedAt = updated.Time
	return &c, nil
}

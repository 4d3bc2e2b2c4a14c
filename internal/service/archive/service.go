package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"msgarchive/internal/events"
	"msgarchive/internal/models"
	"msgarchive/internal/redis"
	"msgarchive/internal/storage"
)

// ErrNotFound is returned when a referenced message does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports rejected input before storage is touched.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(code, format string, args ...interface{}) error {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Publisher receives change notifications after successful writes.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event)
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Cache    *redis.Client
	CacheTTL time.Duration
	Events   Publisher
}

// Service owns every read and write against the message archive.
type Service struct {
	db     *sql.DB
	driver string
	cache  *threadCache
	events Publisher
	now    func() time.Time
}

// NewService builds an archive service over an migrated database.
func NewService(db *sql.DB, driver string, opts Options) (*Service, error) {
	if db == nil {
		return nil, errors.New("database required")
	}
	normalized, err := storage.Driver(driver)
	if err != nil {
		return nil, err
	}
	return &Service{
		db:     db,
		driver: normalized,
		cache:  newThreadCache(opts.Cache, opts.CacheTTL),
		events: opts.Events,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Ping reports whether the database is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// changed drops cached summaries and notifies subscribers.
func (s *Service) changed(ctx context.Context, ev events.Event) {
	s.cache.invalidate(ctx)
	if s.events != nil {
		s.events.Publish(ctx, ev)
	}
}

const messageColumns = `m.id, m.phone, c.name, m.body, m.direction, m.occurred_at
	FROM messages m LEFT JOIN contacts c ON c.phone = m.phone`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m    models.Message
		name sql.NullString
		ts   dbTime
	)
	if err := row.Scan(&m.ID, &m.Phone, &name, &m.Body, &m.Direction, &ts); err != nil {
		return nil, err
	}
	if name.Valid {
		m.Name = &name.String
	}
	m.Timestamp = ts.Time
	return &m, nil
}

// normalizeName maps blank names to nil.
func normalizeName(name *string) *string {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// dbTime scans timestamps from drivers that return either time.Time or text.
type dbTime struct {
	Time time.Time
}

var dbTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

func (t *dbTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range dbTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}

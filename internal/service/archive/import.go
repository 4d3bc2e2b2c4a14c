package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"msgarchive/internal/events"
	"msgarchive/internal/models"
	"msgarchive/internal/storage"
)

// ImportRecord is one raw message of a bulk import. Timestamp is kept as
// text so every accepted notation can be parsed in one place. ID is optional;
// a record whose ID is already stored counts as a duplicate.
type ImportRecord struct {
	ID        string  `json:"id"`
	Phone     string  `json:"phone"`
	Name      *string `json:"name"`
	Body      string  `json:"body"`
	Direction string  `json:"direction"`
	Timestamp string  `json:"timestamp"`
}

// UnmarshalJSON accepts the timestamp as a JSON string or number.
func (r *ImportRecord) UnmarshalJSON(data []byte) error {
	type plain ImportRecord
	var raw struct {
		plain
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = ImportRecord(raw.plain)
	r.Timestamp = ""
	ts := strings.TrimSpace(string(raw.Timestamp))
	if ts == "" || ts == "null" {
		return nil
	}
	if err := json.Unmarshal(raw.Timestamp, &r.Timestamp); err == nil {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.Timestamp, &n); err != nil {
		return fmt.Errorf("timestamp must be a string or number")
	}
	r.Timestamp = n.String()
	return nil
}

// ImportResult counts what a bulk import did.
type ImportResult struct {
	Count      int `json:"count"`
	Duplicates int `json:"duplicates"`
}

// maxIDLength bounds client supplied ids to what every store column holds.
const maxIDLength = 64

type validRecord struct {
	id        string
	phone     string
	body      string
	direction models.Direction
	ts        time.Time
}

// BulkImport validates the whole batch, then inserts each record on its own.
// Records carrying an id that is already stored are skipped and counted as
// duplicates. Records without an id are always stored.
func (s *Service) BulkImport(ctx context.Context, records []ImportRecord) (*ImportResult, error) {
	if len(records) == 0 {
		return nil, invalid("empty_array", "Messages array cannot be empty")
	}

	valid := make([]validRecord, len(records))
	names := make(map[string]*string)
	for i, r := range records {
		phone := strings.TrimSpace(r.Phone)
		if phone == "" || strings.TrimSpace(r.Body) == "" || r.Direction == "" || strings.TrimSpace(r.Timestamp) == "" {
			return nil, invalid("invalid_message_structure",
				"Message at index %d is missing required fields (phone, body, direction, timestamp)", i)
		}
		direction := models.Direction(r.Direction)
		if !direction.Valid() {
			return nil, invalid("invalid_direction",
				"Message at index %d has invalid direction. Must be 'sent' or 'received'", i)
		}
		ts, err := ParseTimestamp(r.Timestamp)
		if err != nil {
			return nil, invalid("invalid_timestamp", "Message at index %d has an invalid timestamp: %v", i, err)
		}
		id := strings.TrimSpace(r.ID)
		if len(id) > maxIDLength {
			return nil, invalid("invalid_id", "Message at index %d has an id longer than %d characters", i, maxIDLength)
		}
		if id == "" {
			id = uuid.NewString()
		}
		valid[i] = validRecord{id: id, phone: phone, body: r.Body, direction: direction, ts: ts}
		if name := normalizeName(r.Name); name != nil {
			names[phone] = name
		}
	}

	stmt, err := s.db.PrepareContext(ctx,
		`INSERT INTO messages (id, phone, body, direction, occurred_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare import: %w", err)
	}
	defer stmt.Close()

	result := &ImportResult{}
	now := s.now()
	for i, r := range valid {
		_, err := stmt.ExecContext(ctx, r.id, r.phone, r.body, r.direction, r.ts, now)
		if err != nil {
			if storage.IsUniqueViolation(err) {
				result.Duplicates++
				continue
			}
			return nil, fmt.Errorf("insert message %d: %w", i, err)
		}
		result.Count++
	}

	for phone, name := range names {
		if err := s.upsertContact(ctx, phone, name); err != nil {
			return nil, err
		}
	}

	s.changed(ctx, events.Event{Type: events.MessagesImported, Count: int64(result.Count)})
	return result, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp accepts RFC 3339 (with or without zone), a space-separated
// date time, a bare date, or integer epoch milliseconds. Zoneless values are UTC.
// Only years 1 through 9999 are accepted.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return inRange(time.UnixMilli(ms).UTC())
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return inRange(ts.UTC())
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

func inRange(ts time.Time) (time.Time, error) {
	if y := ts.Year(); y < 1 || y > 9999 {
		return time.Time{}, fmt.Errorf("timestamp year %d out of range", y)
	}
	return ts, nil
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSON-in-TEXT column types. Every backend stores them as plain text so
// the same schema works on SQLite, Turso and Postgres.

type StringList []string

func (l *StringList) Scan(src any) error {
	return scanJSON(src, l)
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return valueJSON(l)
}

func (c *Contacts) Scan(src any) error {
	return scanJSON(src, c)
}

func (c Contacts) Value() (driver.Value, error) {
	return valueJSON(c)
}

type JSONObject map[string]any

func (o *JSONObject) Scan(src any) error {
	return scanJSON(src, o)
}

func (o JSONObject) Value() (driver.Value, error) {
	if o == nil {
		return "{}", nil
	}
	return valueJSON(o)
}

// Timestamp is stored as RFC 3339 text.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return fmt.Errorf("timestamp: unsupported source %T", src)
}

func (t *Timestamp) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t.Time = parsed.UTC()
	return nil
}

func (t Timestamp) Value() (driver.Value, error) {
	return t.UTC().Format(time.RFC3339Nano), nil
}

func scanJSON(src any, dest any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("json column: unsupported source %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("json column: %w", err)
	}
	return nil
}

func valueJSON(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

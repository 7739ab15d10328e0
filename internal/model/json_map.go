package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
)

// JSONMap is the open key-value blob stored next to files, variants and
// jobs. Its shape is only checked by the code that reads a given key.
type JSONMap map[string]any

// Value implements the driver.Valuer interface.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json map, %w", err)
	}

	return string(b), nil
}

// Scan implements the sql.Scanner interface.
func (m *JSONMap) Scan(value any) error {
	var raw []byte

	switch v := value.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("failed to scan JSONMap, %v", value)
	}

	if len(raw) == 0 {
		*m = JSONMap{}
		return nil
	}

	out := JSONMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to unmarshal json map, %w", err)
	}

	*m = out
	return nil
}

// GormDataType keeps the column portable between sqlite and postgres
func (JSONMap) GormDataType() string {
	return "text"
}

// Float returns a numeric value regardless of how it was decoded
func (m JSONMap) Float(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}

	return 0, false
}

func (m JSONMap) Text(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Merge copies src into m, overwriting existing keys
func (m JSONMap) Merge(src map[string]any) JSONMap {
	if m == nil {
		m = JSONMap{}
	}

	for k, v := range src {
		m[k] = v
	}

	return m
}

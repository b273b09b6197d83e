package syncstore

import (
	"bytes"
	"database/sql/driver"
	"fmt"

	json "github.com/goccy/go-json"
)

// JSONSchemaVersion is written into every JSON column envelope.
const JSONSchemaVersion = 1

// JSON is a typed JSON column. It is stored as an envelope
// {"v": <schema version>, "data": <payload>} so readers can detect shape
// changes. Bare payloads written by earlier tooling decode as version 0.
type JSON[T any] struct {
	Version int
	Data    T
}

// NewJSON wraps data at the current schema version.
func NewJSON[T any](data T) JSON[T] {
	return JSON[T]{Version: JSONSchemaVersion, Data: data}
}

type jsonEnvelope[T any] struct {
	Version int `json:"v"`
	Data    T   `json:"data"`
}

// Value implements driver.Valuer.
func (j JSON[T]) Value() (driver.Value, error) {
	v := j.Version
	if v == 0 {
		v = JSONSchemaVersion
	}
	raw, err := json.Marshal(jsonEnvelope[T]{Version: v, Data: j.Data})
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (j *JSON[T]) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*j = JSON[T]{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan json column: unsupported type %T", src)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*j = JSON[T]{}
		return nil
	}

	if raw[0] == '{' {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(raw, &envelope); err == nil {
			if vRaw, ok := envelope["v"]; ok {
				if dataRaw, ok := envelope["data"]; ok && len(envelope) == 2 {
					var out JSON[T]
					if err := json.Unmarshal(vRaw, &out.Version); err != nil {
						return fmt.Errorf("scan json column version: %w", err)
					}
					if err := json.Unmarshal(dataRaw, &out.Data); err != nil {
						return fmt.Errorf("scan json column data: %w", err)
					}
					*j = out
					return nil
				}
			}
		}
	}

	// Legacy bare payload.
	var out JSON[T]
	if err := json.Unmarshal(raw, &out.Data); err != nil {
		return fmt.Errorf("scan json column: %w", err)
	}
	*j = out
	return nil
}

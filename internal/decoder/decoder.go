package decoder

import (
	"encoding/json"
	"errors"
	"fmt"

	"cdc-router/internal/models"
)

// ErrTombstone is returned by Parse for a record without a value. Upstream
// tombstones carry no operation and are not change events.
var ErrTombstone = errors.New("tombstone record")

type connectJSON struct {
	Schema *Schema `json:"schema"`
}

// Parse detects the representation of a raw record (plain JSON or JSON with
// an embedded schema) and returns the matching envelope
func Parse(key, value []byte) (Envelope, error) {
	if len(value) == 0 {
		return nil, ErrTombstone
	}

	valueSchema, valuePayload, err := parsePart(value)
	if err != nil {
		return nil, malformed("invalid value: %v", err)
	}
	if valuePayload == nil {
		return nil, ErrTombstone
	}

	var keySchema *Schema
	var keyPayload models.Row
	if len(key) > 0 {
		if keySchema, keyPayload, err = parsePart(key); err != nil {
			return nil, malformed("invalid key: %v", err)
		}
	}

	if valueSchema != nil {
		return &StructEnvelope{
			Key:   Struct{Schema: keySchema, Payload: keyPayload},
			Value: Struct{Schema: valueSchema, Payload: valuePayload},
		}, nil
	}
	return &MapEnvelope{Key: keyPayload, Value: valuePayload}, nil
}

// Decode parses and decodes a raw record into a ChangeEvent
func Decode(key, value []byte) (*models.ChangeEvent, error) {
	env, err := Parse(key, value)
	if err != nil {
		return nil, err
	}
	return env.Decode()
}

// parsePart returns the schema (nil for plain JSON) and the payload object.
// A JSON-with-schema document is exactly {"schema": ..., "payload": ...}.
func parsePart(data []byte) (*Schema, models.Row, error) {
	var row models.Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, nil, err
	}

	_, hasSchema := row.Get("schema")
	payload, hasPayload := row.Get("payload")
	if len(row) != 2 || !hasSchema || !hasPayload {
		return nil, row, nil
	}

	var wrapped connectJSON
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if payload == nil {
		return wrapped.Schema, nil, nil
	}
	payloadRow, ok := models.AsRow(payload)
	if !ok {
		return nil, nil, fmt.Errorf("payload is %T, not an object", payload)
	}
	return wrapped.Schema, payloadRow, nil
}

package blueprint

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Record kinds stored in JSON columns.
const (
	KindBlueprint = "blueprint"
	KindPlan      = "plan"
)

// CurrentVersion is the schema version written by this build.
const CurrentVersion = 1

var ErrUnsupportedVersion = errors.New("unsupported record version")

// Envelope tags a stored JSON record with its kind and schema version.
type Envelope struct {
	Kind    string          `json:"kind"`
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Wrap encodes v inside a versioned envelope.
func Wrap(kind string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: kind, Version: CurrentVersion, Data: data})
}

// Unwrap decodes an envelope of the given kind into T. Rows written before
// envelopes existed (a bare object with no "kind") are read as version 0.
func Unwrap[T any](raw []byte, kind string) (T, error) {
	var zero T
	if len(raw) == 0 || string(raw) == "null" {
		return zero, nil
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return zero, fmt.Errorf("decode %s record: %w", kind, err)
	}
	if env.Kind == "" {
		var legacy T
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return zero, fmt.Errorf("decode legacy %s record: %w", kind, err)
		}
		return legacy, nil
	}
	if env.Kind != kind {
		return zero, fmt.Errorf("decode %s record: got kind %q", kind, env.Kind)
	}
	if env.Version < 1 || env.Version > CurrentVersion {
		return zero, fmt.Errorf("%w: %s v%d", ErrUnsupportedVersion, kind, env.Version)
	}
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return zero, fmt.Errorf("decode %s record: %w", kind, err)
	}
	return out, nil
}

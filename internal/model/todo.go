package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TimeLayout is how finished_at is written back: ISO-8601, UTC, milliseconds.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Layouts accepted when reading finished_at. Flask's jsonify emits HTTP dates,
// isoformat() emits naive timestamps.
var readLayouts = []string{
	time.RFC3339Nano,
	http.TimeFormat,
	time.RFC1123Z,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
}

// Todo is one todo item as the remote API represents it.
// Fields the client never touches are kept verbatim, so a fetched item
// is written back unchanged apart from its completion state.
type Todo struct {
	ID          string
	Description string
	IsFinished  bool
	FinishedAt  *time.Time

	raw map[string]json.RawMessage
}

// SetCompletion marks the item finished at now, or clears it.
// finished_at is set iff isFinished.
func (t *Todo) SetCompletion(isFinished bool, now time.Time) {
	t.IsFinished = isFinished
	if !isFinished {
		t.FinishedAt = nil
		return
	}
	ts := now.UTC().Truncate(time.Millisecond)
	t.FinishedAt = &ts
}

// Consistent reports whether finished_at agrees with is_finished.
func (t Todo) Consistent() bool {
	return (t.FinishedAt != nil) == t.IsFinished
}

// Field returns a field the client does not model, as received.
func (t Todo) Field(name string) (json.RawMessage, bool) {
	v, ok := t.raw[name]
	return v, ok
}

func (t *Todo) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode todo: %w", err)
	}
	if raw == nil {
		return errors.New("decode todo: null item")
	}
	*t = Todo{raw: raw}

	if v, ok := raw["id"]; ok {
		id, err := decodeID(v)
		if err != nil {
			return err
		}
		t.ID = id
	}
	if v, ok := raw["description"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &t.Description); err != nil {
			return fmt.Errorf("decode todo description: %w", err)
		}
	}
	if v, ok := raw["is_finished"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &t.IsFinished); err != nil {
			return fmt.Errorf("decode todo is_finished: %w", err)
		}
	}
	if v, ok := raw["finished_at"]; ok {
		ts, err := decodeTime(v)
		if err != nil {
			return err
		}
		t.FinishedAt = ts
	}
	return nil
}

func (t Todo) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(t.raw)+4)
	for k, v := range t.raw {
		out[k] = v
	}
	if _, ok := out["id"]; !ok && t.ID != "" {
		out["id"] = mustMarshal(t.ID)
	}
	if _, ok := out["description"]; !ok && t.Description != "" {
		out["description"] = mustMarshal(t.Description)
	}
	out["is_finished"] = mustMarshal(t.IsFinished)
	if t.FinishedAt == nil {
		out["finished_at"] = json.RawMessage("null")
	} else {
		out["finished_at"] = mustMarshal(t.FinishedAt.UTC().Format(TimeLayout))
	}
	return json.Marshal(out)
}

// Document is the envelope the API reads and writes: {"todo": {...}}.
// Top-level keys next to "todo" are preserved.
type Document struct {
	Todo Todo

	raw map[string]json.RawMessage
}

func (d *Document) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	v, ok := raw["todo"]
	if !ok {
		return errors.New("decode document: missing todo key")
	}
	var t Todo
	if err := json.Unmarshal(v, &t); err != nil {
		return err
	}
	delete(raw, "todo")
	*d = Document{Todo: t, raw: raw}
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.raw)+1)
	for k, v := range d.raw {
		out[k] = v
	}
	out["todo"] = d.Todo
	return json.Marshal(out)
}

// DecodeDocument validates b against the document schema and decodes it.
func DecodeDocument(b []byte) (Document, error) {
	if err := Validate(b); err != nil {
		return Document{}, err
	}
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return Document{}, err
	}
	return d, nil
}

// List is the body of a todolist endpoint: {"todos": [...]}.
type List struct {
	Todos []Todo `json:"todos"`
}

func decodeID(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	switch {
	case isNull(v):
		return "", nil
	case len(v) > 0 && v[0] == '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", fmt.Errorf("decode todo id: %w", err)
		}
		return s, nil
	default:
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return "", fmt.Errorf("decode todo id: %w", err)
		}
		return n.String(), nil
	}
}

func decodeTime(v json.RawMessage) (*time.Time, error) {
	if isNull(v) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, fmt.Errorf("decode todo finished_at: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range readLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			ts = ts.UTC()
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("decode todo finished_at: unrecognized timestamp %q", s)
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

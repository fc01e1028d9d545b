package core

import (
	"encoding/json"
	"fmt"

	"github.com/mohae/deepcopy"
	"github.com/tidwall/gjson"
)

// Document is a case or work-item data document. Values are restricted to
// what encoding/json round-trips: maps, slices, strings, numbers, bools.
type Document map[string]any

func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	cloned, ok := deepcopy.Copy(d).(Document)
	if !ok {
		return Document{}
	}
	return cloned
}

// Get resolves a dotted path (gjson syntax) against the document.
func (d Document) Get(path string) (any, bool) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

func (d Document) Set(key string, value any) {
	d[key] = value
}

// Merge overlays other onto the document, replacing colliding keys.
func (d Document) Merge(other Document) {
	for k, v := range other {
		d[k] = v
	}
}

func (d Document) JSON() ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshaling document: %w", err)
	}
	return raw, nil
}

func DocumentFromJSON(raw []byte) (Document, error) {
	if len(raw) == 0 {
		return Document{}, nil
	}
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("unmarshaling document: %w", err)
	}
	if d == nil {
		d = Document{}
	}
	return d, nil
}

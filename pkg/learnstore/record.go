package learnstore

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

const (
	fieldInfo        = "info"
	fieldSubscribers = "subscribers"
)

// Record is the persisted state of one learning session.
type Record struct {
	Info        string
	Subscribers []string

	// extra holds record fields this package does not know about so they survive a rewrite.
	extra map[string]json.RawMessage
}

// NewRecord returns a record with defaults applied.
func NewRecord() Record {
	return Record{Subscribers: []string{}}
}

// HasSubscriber reports whether subscriber is in the list.
func (r Record) HasSubscriber(subscriber string) bool {
	return slices.Contains(r.Subscribers, subscriber)
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := Record{
		Info:        r.Info,
		Subscribers: append([]string{}, r.Subscribers...),
	}
	if len(r.extra) > 0 {
		out.extra = make(map[string]json.RawMessage, len(r.extra))
		for k, v := range r.extra {
			out.extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// MarshalJSON always writes both known fields alongside any preserved unknown fields.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.extra)+2)
	for k, v := range r.extra {
		out[k] = v
	}
	subscribers := r.Subscribers
	if subscribers == nil {
		subscribers = []string{}
	}
	out[fieldInfo] = r.Info
	out[fieldSubscribers] = subscribers
	return json.Marshal(out)
}

// UnmarshalJSON fills defaults for missing fields and keeps unknown fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rec := NewRecord()
	if v, ok := raw[fieldInfo]; ok {
		if err := json.Unmarshal(v, &rec.Info); err != nil {
			return fmt.Errorf("invalid %q field: %w", fieldInfo, err)
		}
		delete(raw, fieldInfo)
	}
	if v, ok := raw[fieldSubscribers]; ok {
		var subscribers []string
		if err := json.Unmarshal(v, &subscribers); err != nil {
			return fmt.Errorf("invalid %q field: %w", fieldSubscribers, err)
		}
		if subscribers != nil {
			rec.Subscribers = subscribers
		}
		delete(raw, fieldSubscribers)
	}
	if len(raw) > 0 {
		rec.extra = raw
	}

	*r = rec
	return nil
}

// Document is the whole persisted mapping from session ID to record.
type Document map[string]Record

// Get returns the record for id, or a default record when id is absent.
// It never inserts into the document.
func (d Document) Get(id string) Record {
	if rec, ok := d[id]; ok {
		return rec
	}
	return NewRecord()
}

// Lookup returns the record for id and whether it is actually present.
func (d Document) Lookup(id string) (Record, bool) {
	rec, ok := d[id]
	return rec, ok
}

// IDs returns the session IDs in sorted order.
func (d Document) IDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

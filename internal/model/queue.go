package model

import (
	"encoding/json"
	"time"

	"github.com/muaviaUsmani/plantain/internal/serialization"
)

// QueueVersion is stamped on new queues and preserved across updates.
const QueueVersion = "1.0.0"

// Queue is the metadata record of one queue.
type Queue struct {
	// ID is the stable identifier used in every key
	ID string `json:"id"`
	// Name is the display name
	Name string `json:"name"`
	// Description is optional free text
	Description string `json:"description,omitempty"`
	// CreatedAt is when the queue was created
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is stamped on every metadata change
	UpdatedAt time.Time `json:"updatedAt"`
	// ItemCount mirrors the item list length; derived, never persisted
	ItemCount int64 `json:"itemCount"`
	// Version is the metadata format version
	Version string `json:"version"`
	// Paused blocks consumption while true
	Paused bool `json:"paused,omitempty"`
	// Options carries arbitrary caller configuration keys
	Options map[string]string `json:"options,omitempty"`
}

// NewQueue creates queue metadata with creation timestamps and the current
// format version.
func NewQueue(id, name string) *Queue {
	now := time.Now().UTC()
	return &Queue{
		ID:        id,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   QueueVersion,
	}
}

// Touch stamps UpdatedAt.
func (q *Queue) Touch() {
	q.UpdatedAt = time.Now().UTC()
}

// Clone returns a copy safe to hand out of the cache.
func (q *Queue) Clone() *Queue {
	if q == nil {
		return nil
	}
	dup := *q
	if q.Options != nil {
		dup.Options = make(map[string]string, len(q.Options))
		for k, v := range q.Options {
			dup.Options[k] = v
		}
	}
	return &dup
}

// ToHash flattens the metadata into string fields. ItemCount is skipped;
// the list length is authoritative and storing a copy would only drift.
func (q *Queue) ToHash() map[string]string {
	fields := map[string]string{
		"id":        q.ID,
		"name":      q.Name,
		"createdAt": serialization.FormatTime(q.CreatedAt),
		"updatedAt": serialization.FormatTime(q.UpdatedAt),
		"version":   q.Version,
		"paused":    serialization.HashString(q.Paused),
	}
	if q.Description != "" {
		fields["description"] = q.Description
	}
	for k, v := range q.Options {
		// Caller options share the hash; reserved fields win on clash.
		if _, reserved := fields[k]; !reserved {
			fields[k] = v
		}
	}
	return fields
}

// QueueFromHash rebuilds queue metadata. Unrecognized fields land in
// Options so caller configuration keys survive the round trip.
func QueueFromHash(fields map[string]string) *Queue {
	if len(fields) == 0 {
		return nil
	}
	q := &Queue{
		ID:          fields["id"],
		Name:        fields["name"],
		Description: fields["description"],
		CreatedAt:   serialization.ParseTime(fields["createdAt"]),
		UpdatedAt:   serialization.ParseTime(fields["updatedAt"]),
		Version:     fields["version"],
		Paused:      serialization.ParseBool(fields["paused"]),
	}
	for k, v := range fields {
		switch k {
		case "id", "name", "description", "createdAt", "updatedAt", "version", "paused":
		default:
			if q.Options == nil {
				q.Options = make(map[string]string)
			}
			q.Options[k] = v
		}
	}
	return q
}

// JSON renders the metadata snapshot.
func (q *Queue) JSON() (string, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

package ingest

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedup is a bounded LRU set of recently seen event IDs. The bus gives
// at-least-once delivery; this trims redelivered frames before they
// reach the core. Owned by the single ingest worker, so no locking
// beyond what the LRU itself does.
type Dedup struct {
	seen *lru.Cache[string, struct{}]
}

// NewDedup creates a dedup set that remembers the last capacity IDs.
func NewDedup(capacity int) (*Dedup, error) {
	c, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, err
	}
	return &Dedup{seen: c}, nil
}

// Seen records eventID and reports whether it was already present.
func (d *Dedup) Seen(eventID string) bool {
	_, dup := d.seen.Get(eventID)
	if !dup {
		d.seen.Add(eventID, struct{}{})
	}
	return dup
}

// Len returns the number of remembered IDs.
func (d *Dedup) Len() int {
	return d.seen.Len()
}

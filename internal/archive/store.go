// Package archive resolves archived message identifiers into content.
package archive

import (
	"context"

	kit "filegate/internal/transport"
)

// Item is one resolved archived message.
type Item struct {
	ID      int
	Content kit.Content
}

// ContentStore reads archived messages in bulk.
//
// Fetch returns a slice aligned with ids; absent messages are nil. A
// *transport.RateLimitError may be returned together with the items resolved
// before the limit hit.
type ContentStore interface {
	Fetch(ctx context.Context, ids []int) ([]*Item, error)
}

// Index is the persisted archive index (see storage).
type Index interface {
	LookupArchive(ctx context.Context, ids []int) (map[int]kit.Content, error)
}

// IndexStore serves Fetch from the archive index.
type IndexStore struct {
	idx Index
}

func NewIndexStore(idx Index) *IndexStore { return &IndexStore{idx: idx} }

func (s *IndexStore) Fetch(ctx context.Context, ids []int) ([]*Item, error) {
	found, err := s.idx.LookupArchive(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*Item, len(ids))
	for i, id := range ids {
		if c, ok := found[id]; ok {
			out[i] = &Item{ID: id, Content: c}
		}
	}
	return out, nil
}

// Package pagination implements opaque cursors and stable page slicing over
// result sets sorted by (sort value desc, id desc).
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

const (
	DefaultLimit            = 50
	DefaultMaxLimit         = 100
	DefaultCursorExpiration = 24 * time.Hour
)

// Key positions an item in the sort order.
type Key struct {
	ID        string
	SortValue time.Time
}

// before reports whether k sorts strictly before other in (SortValue desc, ID desc) order.
func (k Key) before(other Key) bool {
	if !k.SortValue.Equal(other.SortValue) {
		return k.SortValue.After(other.SortValue)
	}
	return k.ID > other.ID
}

// Cursor is the decoded form of an opaque cursor string.
type Cursor struct {
	ID        string `json:"id"`
	SortValue int64  `json:"sv"`
	CreatedAt int64  `json:"ts"`
}

func (c Cursor) key() Key {
	return Key{ID: c.ID, SortValue: time.Unix(0, c.SortValue).UTC()}
}

// Codec encodes and decodes cursors. Decoding treats expired or malformed
// cursors as absent.
type Codec struct {
	Expiration time.Duration
	Now        func() time.Time
}

// NewCodec returns a Codec with the given expiration and clock.
func NewCodec(expiration time.Duration, now func() time.Time) *Codec {
	if expiration <= 0 {
		expiration = DefaultCursorExpiration
	}
	if now == nil {
		now = time.Now
	}
	return &Codec{Expiration: expiration, Now: now}
}

// Encode returns a URL-safe cursor for k, stamped with the current time.
func (c *Codec) Encode(k Key) string {
	data, _ := json.Marshal(Cursor{
		ID:        k.ID,
		SortValue: k.SortValue.UnixNano(),
		CreatedAt: c.Now().UnixMilli(),
	})
	return base64.RawURLEncoding.EncodeToString(data)
}

// Decode parses s. It returns false for empty, malformed or expired cursors.
func (c *Codec) Decode(s string) (Cursor, bool) {
	if s == "" {
		return Cursor{}, false
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, false
	}
	var cur Cursor
	if err := json.Unmarshal(data, &cur); err != nil {
		return Cursor{}, false
	}
	if cur.ID == "" || cur.CreatedAt <= 0 {
		return Cursor{}, false
	}
	issued := time.UnixMilli(cur.CreatedAt)
	if c.Now().Sub(issued) > c.Expiration {
		return Cursor{}, false
	}
	return cur, true
}

// Params selects a page.
type Params struct {
	Limit         int
	StartingAfter string
	EndingBefore  string
}

// Limits clamps requested page sizes.
type Limits struct {
	Default int
	Max     int
}

// Clamp returns the effective page size for limit.
func (l Limits) Clamp(limit int) int {
	def, ceiling := l.Default, l.Max
	if def <= 0 {
		def = DefaultLimit
	}
	if ceiling <= 0 {
		ceiling = DefaultMaxLimit
	}
	if limit <= 0 {
		return min(def, ceiling)
	}
	return min(limit, ceiling)
}

// Page is one slice of a sorted result set.
type Page[T any] struct {
	Items      []T    `json:"items"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
	PrevCursor string `json:"prev_cursor,omitempty"`
}

// Paginate slices items, which must already be sorted by (sort value desc,
// id desc), according to p.
//
// EndingBefore wins over StartingAfter. Forward pages hold the first limit
// items after the cursor and HasMore reports items beyond the last one;
// backward pages hold the last limit items before the cursor and HasMore
// reports items before the first one. NextCursor and PrevCursor are set
// whenever items exist past the corresponding edge.
func Paginate[T any](items []T, keyOf func(T) Key, p Params, limits Limits, codec *Codec) Page[T] {
	limit := limits.Clamp(p.Limit)

	start, end := 0, len(items)
	backward := false
	if cur, ok := codec.Decode(p.EndingBefore); ok {
		backward = true
		k := cur.key()
		end = 0
		for end < len(items) && keyOf(items[end]).before(k) {
			end++
		}
		start = max(0, end-limit)
	} else {
		if cur, ok := codec.Decode(p.StartingAfter); ok {
			k := cur.key()
			for start < len(items) && !k.before(keyOf(items[start])) {
				start++
			}
		}
		end = min(len(items), start+limit)
	}

	page := Page[T]{Items: append([]T(nil), items[start:end]...)}
	if page.Items == nil {
		page.Items = []T{}
	}
	hasPrev := start > 0
	hasNext := end < len(items)
	if backward {
		page.HasMore = hasPrev
	} else {
		page.HasMore = hasNext
	}
	if len(page.Items) > 0 {
		if hasNext {
			page.NextCursor = codec.Encode(keyOf(page.Items[len(page.Items)-1]))
		}
		if hasPrev {
			page.PrevCursor = codec.Encode(keyOf(page.Items[0]))
		}
	}
	return page
}

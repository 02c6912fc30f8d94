package pagination

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
)

/*

Cursor is an opaque resume position into an ordered paged query.

SortKey: the ordering key of the last returned item (unix nanoseconds for
	postgres walks, unix milliseconds for the feed cache; each query space
	picks its own unit and only ever compares against itself)
Id: the last returned item's id, disambiguating sort key ties

A query accepts (cursor | nil, pageSize) and returns (items, nextCursor |
nil); nil nextCursor signals end of results. Because the cursor carries the
item id alongside the sort key, a walk makes forward progress even when items
with identical sort keys are inserted mid-walk.

Callers outside this module only ever see the Encode()d token.

*/

type Cursor struct {
	SortKey int64  `json:"sortKey"`
	Id      string `json:"id"`
}

// Encode serializes the cursor into an opaque token safe to embed in a queue
// message or hand to a client.
func (c *Cursor) Encode() string {
	b, _ := json.Marshal(c)
	return base64.StdEncoding.EncodeToString(b)
}

// Decode parses a token produced by Encode.
func Decode(token string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, errors.Wrap(err, "malformed pagination cursor")
	}
	c := &Cursor{}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, errors.Wrap(err, "malformed pagination cursor")
	}
	return c, nil
}

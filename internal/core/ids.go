package core

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID returns a prefixed, globally unique identifier such as "worker-<uuid>".
// Used for Worker identities; task IDs are the board item IDs.
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String())
}

// NewSortableID returns a prefixed ULID, which sorts lexicographically by
// creation time. Used for the Planner's bounded error ring, where entries
// need a stable insertion order without a monotonic counter.
func NewSortableID(prefix string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

package history

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Fixed-width so lexicographic comparison of timestamps matches chronological
// order, and identical to what historical clients serialized.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// NewTimestamp renders an instant in the stored timestamp form.
func NewTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// IDGenerator hands out record ids in the historical client format, a unix
// millisecond timestamp joined with an in-process sequence index. The
// sequence keeps ids distinct when several results land in one millisecond.
type IDGenerator struct {
	seq atomic.Uint64
}

func (g *IDGenerator) Next(t time.Time) string {
	return fmt.Sprintf("%d_%d", t.UnixMilli(), g.seq.Add(1))
}

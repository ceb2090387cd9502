package wire

import (
	"strconv"
	"sync/atomic"
	"time"
)

// IDGenerator hands out correlation ids of the form "<unix-millis>-<n>".
// The counter never repeats within a process, so ids are unique even when
// the clock stalls or moves backwards.
type IDGenerator struct {
	seq atomic.Uint64
	now func() time.Time
}

// NewIDGenerator returns a generator backed by the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns a fresh correlation id.
func (g *IDGenerator) Next() string {
	n := g.seq.Add(1)
	now := time.Now
	if g.now != nil {
		now = g.now
	}
	return strconv.FormatInt(now().UnixMilli(), 10) + "-" + strconv.FormatUint(n, 10)
}

var defaultIDs = NewIDGenerator()

// ProcessIDs returns the generator shared by every bridge in the process.
func ProcessIDs() *IDGenerator { return defaultIDs }

// NextID returns an id from the process-wide generator.
func NextID() string { return defaultIDs.Next() }

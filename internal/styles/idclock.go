package styles

import (
	"sync"
	"time"
)

// idClock issues time-based style ids that are strictly increasing within
// the process and above every id already stored for the origin.
type idClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func newIDClock(now func() time.Time) *idClock {
	if now == nil {
		now = time.Now
	}
	return &idClock{now: now}
}

func (c *idClock) next(floor int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.now().UnixMilli()
	if id <= c.last {
		id = c.last + 1
	}
	if id <= floor {
		id = floor + 1
	}
	c.last = id
	return id
}

package simshare

import (
	"fmt"
	"sync/atomic"
)

// ConnStats keeps track of both currently open and total session counts for a relay
type ConnStats struct {
	count int32
	open  int32
}

// ConnStatsSnapshot is a point-in-time copy of ConnStats
type ConnStatsSnapshot struct {
	Open  int32 `json:"open"`
	Total int32 `json:"total"`
}

// New adds one to the total session count and returns the new total
func (c *ConnStats) New() int32 {
	return atomic.AddInt32(&c.count, 1)
}

// Open adds one to the current open session count
func (c *ConnStats) Open() {
	atomic.AddInt32(&c.open, 1)
}

// Close subtracts one from the current open session count
func (c *ConnStats) Close() {
	atomic.AddInt32(&c.open, -1)
}

// Snapshot returns the current counts
func (c *ConnStats) Snapshot() ConnStatsSnapshot {
	return ConnStatsSnapshot{
		Open:  atomic.LoadInt32(&c.open),
		Total: atomic.LoadInt32(&c.count),
	}
}

func (c *ConnStats) String() string {
	s := c.Snapshot()
	return fmt.Sprintf("[%d/%d]", s.Open, s.Total)
}

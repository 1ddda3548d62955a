package cache

import "sync/atomic"

// Statistics is a point-in-time view of the manager's counters. Counters only
// grow; clearing the cache leaves them untouched.
type Statistics struct {
	MemoryHits      uint64 `json:"memory_hits"`
	DiskHits        uint64 `json:"disk_hits"`
	Misses          uint64 `json:"misses"`
	Preloads        uint64 `json:"preloads"`
	Evictions       uint64 `json:"evictions"`
	DiskErrors      uint64 `json:"disk_errors"`
	PreloadFailures uint64 `json:"preload_failures"`
	PreloadsDropped uint64 `json:"preloads_dropped"`

	MemoryEntries  int `json:"memory_entries"`
	MemoryCapacity int `json:"memory_capacity"`
}

// Requests is the number of Get calls that have been answered.
func (s Statistics) Requests() uint64 {
	return s.MemoryHits + s.DiskHits + s.Misses
}

// HitRate is (memory hits + disk hits) / requests, or 0 with no requests.
func (s Statistics) HitRate() float64 {
	total := s.Requests()
	if total == 0 {
		return 0
	}
	return float64(s.MemoryHits+s.DiskHits) / float64(total)
}

type counters struct {
	memoryHits      atomic.Uint64
	diskHits        atomic.Uint64
	misses          atomic.Uint64
	preloads        atomic.Uint64
	evictions       atomic.Uint64
	diskErrors      atomic.Uint64
	preloadFailures atomic.Uint64
	preloadsDropped atomic.Uint64
}

func (c *counters) snapshot() Statistics {
	return Statistics{
		MemoryHits:      c.memoryHits.Load(),
		DiskHits:        c.diskHits.Load(),
		Misses:          c.misses.Load(),
		Preloads:        c.preloads.Load(),
		Evictions:       c.evictions.Load(),
		DiskErrors:      c.diskErrors.Load(),
		PreloadFailures: c.preloadFailures.Load(),
		PreloadsDropped: c.preloadsDropped.Load(),
	}
}

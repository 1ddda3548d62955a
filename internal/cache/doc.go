/*
Package cache provides the two-level table cache behind the dashboard.

Indicator tables are expensive to produce, so they are held in a bounded
memory tier and persisted to a disk tier that survives restarts.

# Cache Architecture

	┌─────────────────────────────────────────────┐
	│           Handlers / CLI / Catalog          │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│                  Manager                    │  ← This Package
	│   Get / Set / GetOrLoad / Preload / Clear   │
	└─────────────────────────────────────────────┘
	          │                          │
	┌───────────────────┐     ┌───────────────────┐
	│    MemoryTier     │     │     DiskTier      │
	│  LRU by entries   │     │ one file per key  │
	│  default 100      │     │ TTL on mtime, 24h │
	└───────────────────┘     └───────────────────┘

# Lookup Order

Get consults memory first. On a memory miss a fresh disk entry is decoded,
promoted into memory and returned. Anything else is a miss. Each call bumps
exactly one of the memory-hit, disk-hit or miss counters.

Set writes through to both tiers. A disk failure is logged and counted in
Statistics.DiskErrors; the table is still served from memory.

# Disk Layout

Each key maps to <dir>/<SafeToken(key)>.tbl. Files hold a four byte magic
header followed by zstd-compressed JSON and are written to a temporary name
then renamed, so a reader sees either the old entry or the new one. An entry
is valid while now-mtime < ttl; a ttl of zero disables disk reads entirely.

# Usage Examples

	mgr, err := cache.NewManager(cache.DefaultConfig(), cache.WithLogger(logger))
	if err != nil {
		return err
	}
	defer mgr.Close(context.Background())

	table, err := mgr.GetOrLoad(ctx, "SDG_1_1", loader)

	jobID, err := mgr.Preload([]string{"SDG_1_1", "SDG_1_2"}, loader)
	if err == cache.ErrPreloadQueueFull {
		// try again later
	}

# Preloading

Preload hands keys to a fixed pool of workers through a bounded queue and
returns at once. Workers skip keys that are already cached, store non-empty
results and log failures per key. A panicking loader is recovered and
counted as a failure.

# Memoization

Memoizer caches derived lookups such as catalog queries. Register its
InvalidateAll with Manager.OnClear so that clearing the data cache also drops
results computed from it.
*/
package cache

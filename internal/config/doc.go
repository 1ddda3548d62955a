/*
Package config loads statdash settings from defaults, a YAML file and the
environment.

# Precedence

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (STATDASH_*)                      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Example File

	global:
	  log_level: INFO
	  log_format: json

	cache:
	  cache_directory: /var/cache/statdash
	  memory_capacity: 100
	  disk_ttl_hours: 24
	  preload_workers: 2

	source:
	  kind: s3
	  s3:
	    bucket: sdg-indicators
	    prefix: tables/
	    region: eu-west-1
	  retry:
	    max_attempts: 3
	    initial_delay: 200ms
	  circuit_breaker:
	    enabled: true
	    consecutive_failures: 5
	    timeout: 30s

	catalog:
	  file: /etc/statdash/catalog.yaml

	server:
	  address: ":8080"

# Environment Overrides

	STATDASH_LOG_LEVEL, STATDASH_LOG_FORMAT, STATDASH_LOG_FILE
	STATDASH_CACHE_DIR, STATDASH_MEMORY_CAPACITY, STATDASH_DISK_TTL_HOURS,
	STATDASH_PRELOAD_WORKERS
	STATDASH_SOURCE_KIND, STATDASH_SOURCE_DIR, STATDASH_SOURCE_WATCH,
	STATDASH_CIRCUIT_BREAKER
	STATDASH_S3_BUCKET, STATDASH_S3_PREFIX, STATDASH_S3_REGION, STATDASH_S3_ENDPOINT
	STATDASH_SQLITE_PATH
	STATDASH_CATALOG_FILE, STATDASH_SERVER_ADDRESS, STATDASH_METRICS_ENABLED

A value that cannot be parsed for its field fails Load with a
CONFIG_VALIDATION error rather than being ignored.
*/
package config

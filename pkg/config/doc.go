// Package config loads the change log service configuration.
//
// Values come from built-in defaults, then an optional YAML file named by
// CHANGELOG_CONFIG_FILE, then CHANGELOG_* environment variables, each layer
// overriding the previous one.
//
// # Environment
//
// Server settings:
//
//	CHANGELOG_HOST="0.0.0.0"
//	CHANGELOG_PORT="8080"
//	CHANGELOG_HEALTH_PORT="9090"
//	CHANGELOG_MAX_CONCURRENT_REQUESTS="256"
//
// Storage settings:
//
//	CHANGELOG_STORAGE_TYPE="postgres"  # memory, postgres
//	CHANGELOG_POSTGRES_URL="postgres://localhost/tasks?sslmode=disable"
//
// Retention settings:
//
//	CHANGELOG_RETENTION_DAYS="90"
//	CHANGELOG_RETENTION_SCHEDULE="0 3 * * *"
//	CHANGELOG_ARCHIVE_ENABLED="true"
//	CHANGELOG_ARCHIVE_BUCKET="changelog-archive"
//
// Stats cache settings:
//
//	CHANGELOG_STATS_CACHE="redis"  # none, lru, redis
//	CHANGELOG_REDIS_ADDR="localhost:6379"
//
// Observability settings:
//
//	CHANGELOG_LOG_LEVEL="info"
//	CHANGELOG_OTEL_ENABLED="true"
//	CHANGELOG_OTEL_ENDPOINT="otel-collector:4317"
//
// # File
//
//	retention:
//	  days: 30
//	  schedule: "@daily"
//	stats_cache:
//	  type: lru
//	  ttl: 10m
//
// Watch reloads the file on change; the retention worker uses it to pick up
// a new retention period without restarting.
package config

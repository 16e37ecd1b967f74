// Package config loads flock configuration.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional YAML file named by FLOCK_CONFIG_FILE, and FLOCK_* environment
// variables.
//
//	FLOCK_PORT="8080"
//	FLOCK_DB_DRIVER="postgres"          # postgres or sqlite3
//	FLOCK_DB_URL="postgres://localhost/flock?sslmode=disable"
//	FLOCK_REDIS_URL="redis://localhost:6379/0"
//	FLOCK_CACHE_L1_TTL="30s"
//	FLOCK_NOTIFY_MODE="redis"           # log, redis, webhook or none
//	FLOCK_NOTIFY_WEBHOOK_URL="https://hooks.example.com/flock"
//	FLOCK_SCHEDULER_EXPIRY_SWEEP="*/5 * * * *"
//	FLOCK_LOG_LEVEL="info"
//
// Watch re-reads the YAML file on change so long-running processes can pick
// up new settings such as the log level.
package config

// Package config handles configuration loading for chatdesk.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment
// variable expansion. Missing keys get defaults and the result is validated.
//
// # Configuration File
//
// Location (in order):
//
//  1. --config flag
//  2. Path from CHATDESK_CONFIG environment variable
//  3. ./config.yaml (current directory)
//
// Files ending in .toml are decoded as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CHATDESK_JWT_SECRET}"
//
// CHATDESK_DB_PATH, when set, overrides database.path.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	chat:
//	  typing_debounce: "1s"
//	  typing_expiry: "3s"
//	  read_receipt_delay: "1s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":8080"
//	database:
//	  path: "./data/chatdesk.db"
//	auth:
//	  jwt_secret: "${CHATDESK_JWT_SECRET}"   # at least 32 bytes
//	chat:
//	  max_message_bytes: 4000
//	  subscriber_buffer: 64
//	notifications:
//	  dedupe_size: 1024
//	logging:
//	  level: "info"     # debug, info, warn, error
//	  format: "text"    # text or json
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config

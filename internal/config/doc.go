// Package config handles configuration loading for coven-webhook.
//
// # Sources
//
// Values are layered, later sources winning:
//
//  1. Defaults (see Default)
//  2. A YAML file, or TOML when the path ends in .toml
//  3. COVEN_WEBHOOK_* environment variables
//
// # Environment Variable Expansion
//
// File values can reference environment variables:
//
//	telegram:
//	  bot_token: "${TELEGRAM_BOT_TOKEN}"
//
// # Environment Overrides
//
// Every field has an override named after its section and key, for example
// COVEN_WEBHOOK_STORAGE_BASE_PATH or COVEN_WEBHOOK_TELEGRAM_ACK_ENABLED.
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  health_path: "/health"
//	  read_header_timeout: "10s"
//
//	storage:
//	  base_path: "data"
//	  backend: "sqlite"     # sqlite | sqlite3 | memory
//	  preload: true
//
//	telegram:
//	  bot_token: "${TELEGRAM_BOT_TOKEN}"
//	  ack_enabled: true
//	  ack_text: "ack"
//
//	report:
//	  schedule: "@every 1h"
//
//	logging:
//	  level: "info"   # debug | info | warn | error
//	  format: "text"  # text | json
package config

// Package config handles configuration loading for herald-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HERALD_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/herald/gateway.yaml
//  3. ~/.config/herald/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	telegram:
//	  bot_token: "${TELEGRAM_BOT_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Telegram bot and webhook:
//
//	telegram:
//	  bot_token: "${TELEGRAM_BOT_TOKEN}"
//	  webhook_secret: "${TELEGRAM_WEBHOOK_SECRET}"
//	  webhook_path: "/webhook"
//	  allowed_user_ids:
//	    - 123456789
//
// Agent sessions:
//
//	claude:
//	  working_dir: "/home/herald/brain"
//	  memory_path: "/home/herald/brain/MEMORY.md"
//	  initial_idle_timeout: "5m"
//	  result_idle_timeout: "20s"
//
// Heartbeat self-checks:
//
//	heartbeat:
//	  enabled: true
//	  every: "30m"
//	  active_hours: "8-22"
//	  target: "last"
//
// Server, Tailscale, database, auth, and logging sections follow the same
// shape; see Config for the full field list.
package config

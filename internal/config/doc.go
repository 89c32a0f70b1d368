// Package config handles configuration loading for the chat gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CHAT_JWT_SECRET}"
//
// Unset variables expand to the empty string, which then fails validation
// for required fields rather than silently running without them.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  token_ttl: "24h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # websocket upgrade, history API, health
//
// Database:
//
//	database:
//	  path: "/var/lib/chat-gateway/chat.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${CHAT_JWT_SECRET}"  # required
//	  token_ttl: "24h"                  # lifetime for minted tokens
//
// Gateway tuning:
//
//	gateway:
//	  send_buffer: 64   # per-connection outbound event buffer
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: false
//	  path: "/metrics"
package config

// Package config handles configuration loading for trident and
// trident-server.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TRIDENT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/trident/config.yaml
//  3. ~/.config/trident/config.yaml
//
// Files ending in .toml are read as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	server:
//	  jwt_secret: "${TRIDENT_JWT_SECRET}"
//
// # Configuration Sections
//
//	remote:
//	  base_url: "http://localhost:8000"
//	  request_timeout: "60s"
//	  token: "${TRIDENT_TOKEN}"      # or token_file
//
//	chat:
//	  provider: "openai"
//	  model: "gpt-4o-mini"
//	  greeting: "Ask me anything."
//	  title_length: 60
//	  preview_length: 100
//
//	server:
//	  http_addr: "127.0.0.1:8000"
//	  database_path: "/var/lib/trident/dev.db"
//	  jwt_secret: "${TRIDENT_JWT_SECRET}"
//	  idempotency_ttl: "10m"
//	  idempotency_max: 1000
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates the shared fields. trident-server additionally calls
// ValidateServer, which requires a database path and a JWT secret of at
// least 32 bytes.
package config

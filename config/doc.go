// Package config provides configuration loading and validation for the
// lighter gateway.
//
// The package handles YAML configuration files, environment variables, and
// CLI flags with automatic merging and validation using
// go-playground/validator.
//
// # Configuration Precedence
//
// Values are loaded in this order (later sources override earlier ones):
//
//  1. Default values
//  2. Configuration file(s) - multiple files merged left-to-right
//  3. Environment variables (LIGHTER_ prefix)
//  4. CLI flags
//
// # Usage
//
//	cfg, err := config.Load([]string{"config.yaml"}, cmd.Flags())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Store in context for subcommands
//	ctx = config.WithContext(ctx, cfg)
//
//	// Retrieve later
//	cfg, err = config.FromContext(ctx)
//
// # Environment Variables
//
// All config keys map to environment variables with LIGHTER_ prefix:
//   - server.port → LIGHTER_SERVER_PORT
//   - resume.driver → LIGHTER_RESUME_DRIVER
//   - log.level → LIGHTER_LOG_LEVEL
//
// # Configuration Structure
//
// The Config struct contains:
//   - Server: gateway port
//   - Log: environment (dev/prod) and level
//   - Auth: API-key enforcement toggle plus inline/file key sources
//   - CORS: cross-origin resource sharing settings
//   - Resume: session store driver (memory/sqlite/postgres) and DSN
//   - Transfer: chunk size and worker pool sizes
//   - Storages: backend id to StorageConfig map
//
// # Validation
//
// Configuration is validated using struct tags:
//   - Port must be 1-65535
//   - Log level must be debug, info, warn, or error
//   - Transfer tuning values must be positive
//   - Every storage kind must be s3, webdav, or fs
package config

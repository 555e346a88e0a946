// Package config defines configuration structures for the networkkit CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (NETWORKKIT_ prefix, optionally from a .env file)
//   - YAML configuration file
//
// # Structure
//
//	type Config struct {
//	    Client     string
//	    Languages  []string
//	    Background string
//	    Progress   bool
//	    Store      StoreConfig
//	    HTTP       HTTPConfig
//	    Retry      RetryConfig
//	    Auth       AuthConfig
//	    APIKey     APIKeyConfig
//	    Inspect    InspectConfig
//	}
//
// Sizes accept human-readable strings ("64KB") and durations accept Go
// duration syntax ("30s").
package config

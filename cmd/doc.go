// Package cmd implements the command-line interface for calagent.
//
// This package provides the following commands:
//   - serve: Start the HTTP API that schedules events from requests
//   - schedule: Schedule events from a single request, interactively or from flags
//   - auth: Authorize access to Google Calendar and store the token
//   - version: Display version information
//
// Configuration is read from an optional YAML file (--config), then the
// environment (including a .env file), then command flags.
package cmd

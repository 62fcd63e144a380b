// Package cmd implements the command-line interface for eventrelay.
//
// This package provides the following commands:
//   - serve: Run the webhook relay, the login endpoints and the WebSocket server
//   - cleanup: Delete EventSub subscriptions left behind by earlier runs
//   - version: Display version information
//
// Configuration is read from an optional YAML file (--config), then the
// environment, then command flags; explicitly set flags win.
package cmd

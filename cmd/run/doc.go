// Package run implements the "dhammer run" command: it assembles the harness
// configuration from flags, environment variables and .env files, selects the
// storage backend and drives harness.Run with controls read from stdin.
package run

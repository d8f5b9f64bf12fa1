// Package daemon bundles the HTTP API, workflow manager, and retention
// sweeps into a single lifecycle with flock-based locking to prevent multiple
// concurrent instances.
package daemon

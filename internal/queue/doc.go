// Package queue persists face-replacement jobs in SQLite and coordinates
// their lifecycle between the API server and the workflow processor.
package queue

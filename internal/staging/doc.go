// Package staging manages per-job scratch directories and retention sweeps
// for staging and output storage.
package staging

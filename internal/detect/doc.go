// Package detect integrates an external face-detection tool and provides
// helpers for choosing and padding detected regions.
package detect

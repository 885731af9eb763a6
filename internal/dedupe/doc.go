// Package dedupe provides event deduplication using a time-based cache
// to drop repeated activity reports within a configurable window.
package dedupe

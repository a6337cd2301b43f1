// Package progress carries crawl milestones from the engine to pluggable
// sinks. Events are batched on a background goroutine so emitting never
// blocks the crawl.
package progress

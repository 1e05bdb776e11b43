// Package engine orchestrates computed-property evaluation against the
// store: it persists evaluation outcomes, maintains the dependency index,
// propagates staleness to transitive dependents, and drains the
// recalculation backlog.
//
// Consistency model: computed caches are eventually consistent. A source
// mutation synchronously marks dependents stale; recomputation happens
// later (explicitly via RecalculateStale, or in the background Run loop)
// and readers may observe the stale flag in between. What readers never
// observe is a property claiming to be valid while a recorded dependency
// has changed underneath it.
package engine

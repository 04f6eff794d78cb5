// Package guidance implements the learned-guidance pattern store.
//
// A Store keeps short strategy texts ("patterns") in two disjoint tiers.
// New patterns enter the short-term tier; a pattern that is used often
// enough with a high enough success ratio is promoted to the long-term
// tier. Stale, rarely used short-term patterns are pruned by Consolidate,
// and both tiers are bounded by capacity eviction.
//
// Storing a strategy whose embedding is within the dedup threshold of an
// existing pattern updates that pattern instead of creating a new one.
//
// On top of the store sit two read-only projections: GenerateGuidance,
// which merges similar patterns with per-domain templates, and RouteTask,
// which recommends an agent for a task.
//
// The in-memory tiers are authoritative for the lifetime of the process.
// Every mutation is written through to a persistence.Delegate; delegate
// failures are logged and counted but never roll back memory.
package guidance

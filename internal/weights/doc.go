// Package weights translates historical predictive accuracy into bounded
// per-agent trust multipliers.
//
// An agent's accuracy at the configured horizon maps to an adjusted weight
// of clamp(1 + (accuracy-0.5)*coefficient, min, max); agents with too little
// reconciled history keep the neutral weight of 1.0. Weights are cached with
// a TTL and persisted through the durable store's upsert. Every lookup
// degrades to a usable number: a store failure serves the previous cache or
// the neutral default, never an error.
package weights

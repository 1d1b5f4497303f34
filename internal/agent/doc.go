// Package agent defines the capability contract for hive agents and runs
// them concurrently against the shared signal board.
//
// Agents are external: hived knows nothing about how an observation is
// produced, only its normalized shape. Every observation passes through
// Normalize before it touches the board, so malformed producer output
// (NaN scores, out-of-range confidence, unknown directions) degrades to
// safe defaults instead of poisoning aggregation.
package agent

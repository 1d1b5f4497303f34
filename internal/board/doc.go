// Package board implements the shared in-process signal board.
//
// Agents publish directional observations onto the board; each (subject,
// agent) key holds at most one live signal, overwritten on republish.
// Signal strength decays with elapsed time since publish, and same-direction
// signals on a subject reinforce each other. When a durable store is
// attached, every publish is mirrored asynchronously through a bounded
// queue; a full queue or a failing store never blocks or fails the
// publishing agent.
package board

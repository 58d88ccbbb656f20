// Package domain contains the core entities of the label generation queue: jobs,
// their lifecycle states, and the rules that govern which state transitions are
// legal. It is independent of any storage engine or delivery mechanism.
package domain

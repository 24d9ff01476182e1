// Package model defines the core data types shared across the memory
// substrate: memories, associations, experiences, and the confidence
// record. It holds types only — no persistence or business logic — so
// that store, confidence, graph, and retrieval can all depend on it
// without import cycles.
package model

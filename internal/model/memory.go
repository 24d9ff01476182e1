package model

import "time"

// MaxContentBytes bounds a memory's content, per the data model invariant.
const MaxContentBytes = 64 * 1024

// MemoryType enumerates the kinds of observation the substrate stores.
type MemoryType string

const (
	MemoryTypeIdentity    MemoryType = "identity"
	MemoryTypeGoal        MemoryType = "goal"
	MemoryTypeDecision    MemoryType = "decision"
	MemoryTypeTodo        MemoryType = "todo"
	MemoryTypePreference  MemoryType = "preference"
	MemoryTypeFact        MemoryType = "fact"
	MemoryTypeEvent       MemoryType = "event"
	MemoryTypeObservation MemoryType = "observation"
)

// ValidMemoryTypes lists the eight recognized memory_type variants.
var ValidMemoryTypes = []MemoryType{
	MemoryTypeIdentity, MemoryTypeGoal, MemoryTypeDecision, MemoryTypeTodo,
	MemoryTypePreference, MemoryTypeFact, MemoryTypeEvent, MemoryTypeObservation,
}

// IsValidMemoryType reports whether t is one of the eight variants.
func IsValidMemoryType(t MemoryType) bool {
	for _, v := range ValidMemoryTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Memory is a single typed unit of stored agent knowledge.
//
// Embeddings are not part of a Memory's logical identity: VecIndex owns
// them, keyed by the same id.
type Memory struct {
	ID             string
	Content        string
	Type           MemoryType
	Importance     float64
	Confidence     ConfidenceRecord
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	Source         string
	SessionID      string
	Forgotten      bool
	ForgottenAt    *time.Time
	Metadata       map[string]string
}

// RelationType enumerates the directed edge kinds between memories.
type RelationType string

const (
	RelationRelatedTo  RelationType = "related_to"
	RelationUpdates    RelationType = "updates"
	RelationContradicts RelationType = "contradicts"
	RelationCausedBy   RelationType = "caused_by"
	RelationResultOf   RelationType = "result_of"
	RelationPartOf     RelationType = "part_of"
)

// ValidRelationTypes lists the six recognized relation_type variants.
var ValidRelationTypes = []RelationType{
	RelationRelatedTo, RelationUpdates, RelationContradicts,
	RelationCausedBy, RelationResultOf, RelationPartOf,
}

// IsValidRelationType reports whether t is one of the six variants.
func IsValidRelationType(t RelationType) bool {
	for _, v := range ValidRelationTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Association is a directed, typed edge between two memories.
type Association struct {
	ID           string
	SourceID     string
	TargetID     string
	RelationType RelationType
	Weight       float64
	CreatedAt    time.Time
}

// Experience groups memories into a named, time-bounded episode.
type Experience struct {
	ID         string
	Title      string
	Context    string
	StartedAt  time.Time
	EndedAt    *time.Time
	Importance float64
	MemoryIDs  []string
}

// Open reports whether the experience has not yet been ended.
func (e *Experience) Open() bool {
	return e.EndedAt == nil
}

// NeighborRef is a BFS result: a memory id plus its shortest-path
// distance from the traversal origin.
type NeighborRef struct {
	ID       string
	Distance int
	EdgeWeight float64
}

package model

import "time"

// SourceReliability is the 9-level provenance enum backing
// ConfidenceRecord.SourceReliability.
type SourceReliability int

const (
	SourceUnknown SourceReliability = iota
	SourceSpeculation
	SourceInference
	SourceSecondHand
	SourceUserStatement
	SourceAgentObservation
	SourceToolOutput
	SourceVerifiedDocument
	SourceGroundTruth
)

// Score returns the [0,1] reliability weight for the level.
func (s SourceReliability) Score() float64 {
	if s < SourceUnknown {
		s = SourceUnknown
	}
	if s > SourceGroundTruth {
		s = SourceGroundTruth
	}
	return float64(s) / float64(SourceGroundTruth)
}

// sourceReliabilityNames mirrors the 9 levels in declaration order.
var sourceReliabilityNames = [...]string{
	"unknown", "speculation", "inference", "second_hand", "user_statement",
	"agent_observation", "tool_output", "verified_document", "ground_truth",
}

// String returns the kebab/snake-case name used on the wire (CLI flags,
// FTIndex provenance field) for this level.
func (s SourceReliability) String() string {
	if s < SourceUnknown || s > SourceGroundTruth {
		return "unknown"
	}
	return sourceReliabilityNames[s]
}

// VerificationStatus tracks the lifecycle of a memory's trustworthiness.
type VerificationStatus string

const (
	VerificationUnverified   VerificationStatus = "unverified"
	VerificationTentative    VerificationStatus = "tentative"
	VerificationCorroborated VerificationStatus = "corroborated"
	VerificationUserConfirmed VerificationStatus = "user_confirmed"
	VerificationContradicted VerificationStatus = "contradicted"
	VerificationSuperseded   VerificationStatus = "superseded"
)

// UserVerification is the tri-state unverified/tentative/confirmed
// factor feeding the composite score.
type UserVerification float64

const (
	UserVerificationNone      UserVerification = 0
	UserVerificationTentative UserVerification = 0.5
	UserVerificationConfirmed UserVerification = 1.0
)

// ConfidenceChange is one append-only history entry.
type ConfidenceChange struct {
	Timestamp time.Time
	OldScore  float64
	NewScore  float64
	Reason    string
}

// ConfidenceRecord is the composite trust score on a memory, distinct
// from importance. Score is derived by confidence.Score from the five
// factors below; callers should treat Score as a cache refreshed on
// every mutation rather than an independent field.
type ConfidenceRecord struct {
	Score               float64
	SourceReliability   float64
	ConsistencyScore    float64
	RetrievalStability  float64
	UserVerification    UserVerification
	CorroborationCount  int
	Status              VerificationStatus
	History             []ConfidenceChange
}

// DefaultConfidenceRecord returns the record for a freshly observed,
// unverified memory with no corroboration yet.
func DefaultConfidenceRecord(reliability SourceReliability) ConfidenceRecord {
	r := ConfidenceRecord{
		SourceReliability:  reliability.Score(),
		ConsistencyScore:   0.5,
		RetrievalStability: 0.5,
		UserVerification:   UserVerificationNone,
		CorroborationCount: 0,
		Status:             VerificationUnverified,
	}
	return r
}

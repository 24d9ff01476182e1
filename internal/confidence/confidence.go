// Package confidence implements the composite trust score on a memory
// (spec §4.5): a five-factor formula plus the pure transition
// functions (corroborate, contradict, decay, verify) that mutate a
// model.ConfidenceRecord and log an append-only history entry.
//
// Everything here is pure except for the history append, which is the
// "one stateful sink" the spec calls out — no I/O, no locking; the
// caller (Store) owns persistence of the record as a whole.
package confidence

import (
	"math"
	"time"

	"github.com/mycelicmemory/memcore/internal/model"
)

// DefaultHalfLifeDays is the half-life Decay uses when halfLifeDays is
// not positive (spec §4.5). The half_life_days option of pkg/config is
// loaded but is not passed to Decay anywhere in this module.
const DefaultHalfLifeDays = 30.0

const (
	weightReliability = 0.35
	weightConsistency = 0.25
	weightStability   = 0.20
	weightVerification = 0.20
	weightCorroboration = 0.1
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score computes the composite confidence score from the record's
// five factors:
//
//	c = clamp(0,1, 0.35*r + 0.25*s + 0.20*t + 0.20*u + 0.1*ln(1+k))
func Score(r model.ConfidenceRecord) float64 {
	c := weightReliability*r.SourceReliability +
		weightConsistency*r.ConsistencyScore +
		weightStability*r.RetrievalStability +
		weightVerification*float64(r.UserVerification) +
		weightCorroboration*math.Log(1+float64(r.CorroborationCount))
	return clamp01(c)
}

func record(r *model.ConfidenceRecord, reason string, now time.Time) {
	old := r.Score
	r.Score = Score(*r)
	r.History = append(r.History, model.ConfidenceChange{
		Timestamp: now,
		OldScore:  old,
		NewScore:  r.Score,
		Reason:    reason,
	})
}

// Corroborate increments the corroboration count and recomputes the
// score. Diminishing returns come from the ln(1+k) term: each
// additional corroboration raises the score by less than the last.
func Corroborate(r *model.ConfidenceRecord, sourceTag string, now time.Time) {
	r.CorroborationCount++
	if r.Status == model.VerificationUnverified || r.Status == model.VerificationTentative {
		r.Status = model.VerificationCorroborated
	}
	record(r, "corroborated:"+sourceTag, now)
}

// Contradict multiplies consistency_score by 0.7 and marks the record
// Contradicted. Successive contradictions never increase confidence.
func Contradict(r *model.ConfidenceRecord, otherID string, now time.Time) {
	r.ConsistencyScore *= 0.7
	r.Status = model.VerificationContradicted
	record(r, "contradicted_by:"+otherID, now)
}

// Decay multiplies the score by 0.5^(days/half_life_days). Decay over
// positive days never increases the score; it does not touch the
// underlying factors, only the cached composite, so a subsequent
// Score(r) recomputation from factors would undo it — callers persist
// r.Score directly after Decay rather than recomputing.
func Decay(r *model.ConfidenceRecord, days float64, halfLifeDays float64, now time.Time) {
	if halfLifeDays <= 0 {
		halfLifeDays = DefaultHalfLifeDays
	}
	if days <= 0 {
		return
	}
	old := r.Score
	factor := math.Pow(0.5, days/halfLifeDays)
	r.Score = clamp01(old * factor)
	r.History = append(r.History, model.ConfidenceChange{
		Timestamp: now,
		OldScore:  old,
		NewScore:  r.Score,
		Reason:    "decay",
	})
}

// Verify marks the record user-confirmed with full user_verification
// weight.
func Verify(r *model.ConfidenceRecord, now time.Time) {
	r.UserVerification = model.UserVerificationConfirmed
	r.Status = model.VerificationUserConfirmed
	record(r, "user_verified", now)
}

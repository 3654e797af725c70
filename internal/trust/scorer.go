package trust

import (
	"math"

	"github.com/yourusername/p2p-swap/swap-service/internal/models"
)

// Scoring weights for the trust composite
const (
	ResponseWeight   = 0.20 // 20%
	CompletionWeight = 0.30 // 30%
	RatingWeight     = 0.30 // 30%
	ExperienceWeight = 0.20 // 20%

	MinScore = 0.0
	MaxScore = 100.0

	// Dispute penalty: 5 points per dispute, capped at 20
	DisputePenaltyStep = 5.0
	MaxDisputePenalty  = 20.0

	// Experience saturates near 50 completed swaps
	experienceSaturation = 51.0
)

// Breakdown exposes the component scores behind a trust score.
type Breakdown struct {
	ResponseScore   float64 `json:"response_score"`
	CompletionScore float64 `json:"completion_score"`
	RatingScore     float64 `json:"rating_score"`
	ExperienceScore float64 `json:"experience_score"`
	DisputePenalty  float64 `json:"dispute_penalty"`
	TrustScore      float64 `json:"trust_score"`
	Tier            string  `json:"tier"`
}

// Scorer computes agent reliability scores from performance counters
type Scorer struct{}

// NewScorer creates a new trust scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes the weighted trust score for an agent, in [0, 100].
func (s *Scorer) Score(agent *models.Agent) float64 {
	return s.Breakdown(agent).TrustScore
}

// Breakdown computes the trust score along with its components.
func (s *Scorer) Breakdown(agent *models.Agent) *Breakdown {
	responseScore := s.scoreResponse(agent)
	completionScore := s.scoreCompletion(agent)
	ratingScore := s.scoreRating(agent)
	experienceScore := s.scoreExperience(agent)

	trust := responseScore*ResponseWeight +
		completionScore*CompletionWeight +
		ratingScore*RatingWeight +
		experienceScore*ExperienceWeight

	penalty := math.Min(MaxDisputePenalty, float64(agent.DisputeCount)*DisputePenaltyStep)
	trust -= penalty

	if trust < MinScore {
		trust = MinScore
	}
	if trust > MaxScore {
		trust = MaxScore
	}

	trust = roundScore(trust)

	return &Breakdown{
		ResponseScore:   roundScore(responseScore),
		CompletionScore: roundScore(completionScore),
		RatingScore:     roundScore(ratingScore),
		ExperienceScore: roundScore(experienceScore),
		DisputePenalty:  penalty,
		TrustScore:      trust,
		Tier:            Tier(trust),
	}
}

// scoreResponse rewards fast accept/reject decisions (20% weight)
func (s *Scorer) scoreResponse(agent *models.Agent) float64 {
	return clamp(MaxScore - 2.0*agent.AvgResponseMinutes())
}

// scoreCompletion is the completed/attempted ratio (30% weight)
func (s *Scorer) scoreCompletion(agent *models.Agent) float64 {
	return clamp(agent.CompletionRate() * 100.0)
}

// scoreRating maps the 1-5 client rating average onto 0-100 (30% weight)
func (s *Scorer) scoreRating(agent *models.Agent) float64 {
	return clamp(agent.AverageRating() / 5.0 * 100.0)
}

// scoreExperience grows logarithmically with completed swaps (20% weight)
func (s *Scorer) scoreExperience(agent *models.Agent) float64 {
	completed := float64(agent.CompletedSwaps)
	return clamp(math.Log(completed+1.0) / math.Log(experienceSaturation) * 100.0)
}

// Tier maps a trust score to its display tier.
func Tier(score float64) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 80:
		return "Very Good"
	case score >= 70:
		return "Good"
	case score >= 60:
		return "Fair"
	default:
		return "Needs Improvement"
	}
}

func clamp(score float64) float64 {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// roundScore rounds to one decimal place
func roundScore(score float64) float64 {
	return math.Round(score*10) / 10
}

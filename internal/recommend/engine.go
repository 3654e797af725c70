package recommend

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourusername/p2p-swap/swap-service/internal/models"
	"github.com/yourusername/p2p-swap/swap-service/internal/trust"
	"github.com/yourusername/p2p-swap/swap-service/internal/util"
)

// Recommendation weights
const (
	TrustWeight        = 0.40 // 40% - reliability matters most
	ProximityWeight    = 0.30 // 30% - location convenience
	AvailabilityWeight = 0.20 // 20% - current workload
	ServiceWeight      = 0.10 // 10% - service match

	DefaultMaxResults = 5

	// Neutral proximity when either party lacks coordinates
	neutralProximityScore = 50.0

	// Candidates are pre-filtered to compatible agents
	serviceMatchScore = 100.0
)

// AgentSource supplies candidate agents and their current workload.
type AgentSource interface {
	ListEligibleAgents(ctx context.Context) ([]models.Agent, error)
	CountActiveSwapsForAgents(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int64, error)
}

// ClientLocation carries the requesting client's coordinates, both nil
// when the client has not shared a location.
type ClientLocation struct {
	Latitude  *float64
	Longitude *float64
}

// HasLocation reports whether both coordinates are present.
func (c ClientLocation) HasLocation() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// Recommendation is one ranked agent with its score components.
type Recommendation struct {
	Agent               *models.Agent `json:"agent"`
	TrustScore          float64       `json:"trust_score"`
	TrustTier           string        `json:"trust_level"`
	ProximityScore      float64       `json:"proximity_score"`
	AvailabilityScore   float64       `json:"availability_score"`
	RecommendationScore float64       `json:"recommendation_score"`
	DistanceKm          *float64      `json:"distance_km,omitempty"`
	EstimatedTime       string        `json:"estimated_time"`
	CompletionRate      float64       `json:"completion_rate"`
	AvgResponseMinutes  float64       `json:"average_response_minutes"`
	Experience          string        `json:"experience"`
}

// Engine ranks eligible agents for a client request
type Engine struct {
	agents AgentSource
	scorer *trust.Scorer
}

// NewEngine creates a new recommendation engine
func NewEngine(agents AgentSource, scorer *trust.Scorer) *Engine {
	return &Engine{agents: agents, scorer: scorer}
}

// Recommend returns up to maxResults agents ordered by recommendation
// score. Capacity is not checked here, that happens at acceptance time.
// Amount and target service are part of the request contract but do not
// narrow the candidate pool beyond verified+online filtering.
func (e *Engine) Recommend(
	ctx context.Context,
	client ClientLocation,
	amount decimal.Decimal,
	targetService util.ServiceID,
	maxResults int,
) ([]Recommendation, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	candidates, err := e.agents.ListEligibleAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate agents: %w", err)
	}
	if len(candidates) == 0 {
		return []Recommendation{}, nil
	}

	ids := make([]uuid.UUID, len(candidates))
	for i := range candidates {
		ids[i] = candidates[i].ID
	}
	activeCounts, err := e.agents.CountActiveSwapsForAgents(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent workloads: %w", err)
	}

	recommendations := make([]Recommendation, 0, len(candidates))
	for i := range candidates {
		agent := &candidates[i]
		recommendations = append(recommendations, e.scoreAgent(agent, client, activeCounts[agent.ID]))
	}

	// Stable sort keeps candidate insertion order on equal scores
	sort.SliceStable(recommendations, func(i, j int) bool {
		return recommendations[i].RecommendationScore > recommendations[j].RecommendationScore
	})

	if len(recommendations) > maxResults {
		recommendations = recommendations[:maxResults]
	}
	return recommendations, nil
}

func (e *Engine) scoreAgent(agent *models.Agent, client ClientLocation, activeSwaps int64) Recommendation {
	breakdown := e.scorer.Breakdown(agent)

	distance := distanceKm(agent, client)
	proximityScore := scoreProximity(distance)
	availabilityScore := scoreAvailability(activeSwaps)

	combined := breakdown.TrustScore*TrustWeight +
		proximityScore*ProximityWeight +
		availabilityScore*AvailabilityWeight +
		serviceMatchScore*ServiceWeight

	return Recommendation{
		Agent:               agent,
		TrustScore:          breakdown.TrustScore,
		TrustTier:           breakdown.Tier,
		ProximityScore:      proximityScore,
		AvailabilityScore:   availabilityScore,
		RecommendationScore: combined,
		DistanceKm:          distance,
		EstimatedTime:       estimatedTime(agent, distance),
		CompletionRate:      agent.CompletionRate(),
		AvgResponseMinutes:  agent.AvgResponseMinutes(),
		Experience:          experienceDisplay(agent),
	}
}

func distanceKm(agent *models.Agent, client ClientLocation) *float64 {
	if !client.HasLocation() || !agent.HasLocation() {
		return nil
	}
	d := Haversine(*client.Latitude, *client.Longitude, *agent.Latitude, *agent.Longitude)
	return &d
}

// scoreProximity steps down with distance, neutral without coordinates
func scoreProximity(distance *float64) float64 {
	if distance == nil {
		return neutralProximityScore
	}
	switch d := *distance; {
	case d <= 1:
		return 100
	case d <= 5:
		return 80
	case d <= 10:
		return 60
	case d <= 20:
		return 40
	default:
		return 20
	}
}

// scoreAvailability steps down with the agent's active swap count
func scoreAvailability(activeSwaps int64) float64 {
	switch {
	case activeSwaps == 0:
		return 100
	case activeSwaps == 1:
		return 80
	case activeSwaps == 2:
		return 60
	case activeSwaps == 3:
		return 40
	default:
		return 20
	}
}

func estimatedTime(agent *models.Agent, distance *float64) string {
	if distance == nil {
		return "Location required"
	}
	return EstimateTransferTime(*distance, ClassifyArea(agent.Address))
}

func experienceDisplay(agent *models.Agent) string {
	switch swaps := agent.CompletedSwaps; {
	case swaps == 0:
		return "New Agent"
	case swaps < 10:
		return fmt.Sprintf("%d swaps", swaps)
	case swaps < 50:
		return "Experienced"
	default:
		return "Expert"
	}
}

package trust

import (
	"context"
	"log/slog"
	"sort"

	"trustmesh/go-backend/internal/ledger"
	"trustmesh/go-backend/pkg/models"
)

// Scorer computes trust standing on demand. It holds no state between
// calls; every score reflects the ledger at the time of the call.
type Scorer struct {
	registry ledger.Registry
	logger   *slog.Logger
}

func NewScorer(registry ledger.Registry, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{registry: registry, logger: logger}
}

// Scores computes every registered identity's trust score.
func (s *Scorer) Scores(ctx context.Context) (map[string]models.TrustScore, error) {
	g, err := BuildGraph(ctx, s.registry, s.logger)
	if err != nil {
		return nil, err
	}
	ranks, _ := rank(g)

	out := make(map[string]models.TrustScore, len(g.Nodes))
	for _, id := range g.Nodes {
		out[id] = models.TrustScore{
			Score:      normalizeScore(ranks[id]),
			Rank:       ranks[id],
			IsTrusted:  g.Trusted[id],
			AcceptedBy: g.AcceptedBy[id],
			Accepted:   g.Accepted[id],
		}
	}
	return out, nil
}

// Score returns one identity's trust score.
func (s *Scorer) Score(ctx context.Context, id string) (models.TrustScore, error) {
	scores, err := s.Scores(ctx)
	if err != nil {
		return models.TrustScore{}, err
	}
	score, ok := scores[id]
	if !ok {
		return models.TrustScore{}, ledger.ErrNotFound
	}
	return score, nil
}

// Ranking orders identities by score, ties broken by identity for a
// stable leaderboard.
func (s *Scorer) Ranking(ctx context.Context) ([]models.TrustRanking, error) {
	scores, err := s.Scores(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.TrustRanking, 0, len(scores))
	for id, score := range scores {
		out = append(out, models.TrustRanking{IdentityID: id, TrustScore: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].IdentityID < out[j].IdentityID
	})
	for i := range out {
		out[i].Position = i + 1
	}
	return out, nil
}

// Stats summarizes the acceptance graph's shape.
func (s *Scorer) Stats(ctx context.Context) (models.GraphStats, error) {
	g, err := BuildGraph(ctx, s.registry, s.logger)
	if err != nil {
		return models.GraphStats{}, err
	}
	stats := models.GraphStats{
		TotalNodes: len(g.Nodes),
		TotalEdges: g.EdgeCount(),
	}
	for _, id := range g.Nodes {
		if g.Trusted[id] {
			stats.TrustedNodes++
		}
		if g.degree(id) == 0 {
			stats.IsolatedNodes++
		}
	}
	if stats.TotalNodes > 0 {
		stats.AverageOutDegree = float64(2*stats.TotalEdges) / float64(stats.TotalNodes)
	}
	if stats.TotalNodes > 1 {
		possible := float64(stats.TotalNodes) * float64(stats.TotalNodes-1) / 2
		stats.NetworkDensity = float64(stats.TotalEdges) / possible
	}
	return stats, nil
}

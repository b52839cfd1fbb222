package trust

import "math"

const (
	dampingFactor        = 0.85
	trustedBaseWeight    = 2.0
	defaultBaseWeight    = 1.0
	convergenceThreshold = 0.001
	maxIterations        = 100
)

// rank runs a weighted PageRank over the acceptance graph. Trusted
// issuers carry a doubled base weight, so standing seeded by them
// propagates further. Nodes are iterated in sorted order and the walk
// stops once the total movement across all ranks, summed as absolute
// deltas, drops under the convergence threshold. It reports the ranks
// and the number of iterations run.
func rank(g *Graph) (map[string]float64, int) {
	ranks := make(map[string]float64, len(g.Nodes))
	base := make(map[string]float64, len(g.Nodes))
	for _, id := range g.Nodes {
		weight := defaultBaseWeight
		if g.Trusted[id] {
			weight = trustedBaseWeight
		}
		base[id] = weight
		ranks[id] = weight
	}

	iterations := 0
	for i := 0; i < maxIterations; i++ {
		iterations = i + 1
		next := make(map[string]float64, len(g.Nodes))
		totalChange := 0.0
		for _, id := range g.Nodes {
			incoming := 0.0
			for peer := range g.Edges[id] {
				if deg := g.degree(peer); deg > 0 {
					incoming += ranks[peer] / float64(deg)
				}
			}
			value := (1-dampingFactor)*base[id] + dampingFactor*incoming
			next[id] = value
			totalChange += math.Abs(value - ranks[id])
		}
		ranks = next
		if totalChange < convergenceThreshold {
			break
		}
	}
	return ranks, iterations
}

// normalizeScore converts a rank into the public integer score.
func normalizeScore(rank float64) int {
	return int(math.Round(rank * 1000))
}

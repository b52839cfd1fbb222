package trust

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"testing"

	"trustmesh/go-backend/internal/ledger"
)

func registryWith(t *testing.T, ids []string, edges map[string][]string, trusted []string) *ledger.MemoryRegistry {
	t.Helper()
	reg := ledger.NewMemoryRegistry()
	for _, id := range ids {
		reg.RegisterDID(ledger.DIDDocument{ID: id, Controller: id})
	}
	for _, id := range trusted {
		reg.SetTrustedIssuer(id, true)
	}
	ctx := context.Background()
	for issuer, accepters := range edges {
		for _, accepter := range accepters {
			if err := reg.RecordCredentialAcceptance(ctx, issuer, accepter); err != nil {
				t.Fatalf("record %s<-%s: %v", issuer, accepter, err)
			}
		}
	}
	return reg
}

func TestGraphIsBidirectional(t *testing.T) {
	reg := registryWith(t,
		[]string{"did:a", "did:b", "did:c"},
		map[string][]string{"did:a": {"did:b"}},
		nil,
	)
	g, err := BuildGraph(context.Background(), reg, slog.Default())
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	if g.EdgeCount() != 1 {
		t.Fatalf("expected 1 undirected edge, got %d", g.EdgeCount())
	}
	if _, ok := g.Edges["did:a"]["did:b"]; !ok {
		t.Fatal("issuer->accepter edge missing")
	}
	if _, ok := g.Edges["did:b"]["did:a"]; !ok {
		t.Fatal("accepter->issuer edge missing")
	}
	if g.AcceptedBy["did:a"] != 1 || g.Accepted["did:b"] != 1 {
		t.Fatalf("directed counts wrong: %v / %v", g.AcceptedBy, g.Accepted)
	}
	if g.degree("did:c") != 0 {
		t.Fatal("isolated node gained edges")
	}
}

func TestConnectedNodesOutscoreIsolated(t *testing.T) {
	reg := registryWith(t,
		[]string{"did:hub", "did:x", "did:y", "did:loner"},
		map[string][]string{"did:hub": {"did:x", "did:y"}},
		nil,
	)
	scorer := NewScorer(reg, slog.Default())
	scores, err := scorer.Scores(context.Background())
	if err != nil {
		t.Fatalf("scores: %v", err)
	}

	if scores["did:hub"].Score <= scores["did:loner"].Score {
		t.Fatalf("hub %d should outscore isolated %d", scores["did:hub"].Score, scores["did:loner"].Score)
	}
	if scores["did:x"].Score <= scores["did:loner"].Score {
		t.Fatalf("connected leaf %d should outscore isolated %d", scores["did:x"].Score, scores["did:loner"].Score)
	}
	if scores["did:hub"].AcceptedBy != 2 {
		t.Fatalf("hub accepted-by count: %d", scores["did:hub"].AcceptedBy)
	}
}

func TestTrustedIssuerBoostPropagates(t *testing.T) {
	// Two mirrored pairs; only one pair's issuer is a trusted issuer.
	reg := registryWith(t,
		[]string{"did:t-issuer", "did:t-peer", "did:p-issuer", "did:p-peer"},
		map[string][]string{
			"did:t-issuer": {"did:t-peer"},
			"did:p-issuer": {"did:p-peer"},
		},
		[]string{"did:t-issuer"},
	)
	scorer := NewScorer(reg, slog.Default())
	scores, err := scorer.Scores(context.Background())
	if err != nil {
		t.Fatalf("scores: %v", err)
	}

	if !scores["did:t-issuer"].IsTrusted || scores["did:p-issuer"].IsTrusted {
		t.Fatal("trusted flags wrong")
	}
	if scores["did:t-issuer"].Score <= scores["did:p-issuer"].Score {
		t.Fatalf("trusted issuer %d should outscore plain issuer %d",
			scores["did:t-issuer"].Score, scores["did:p-issuer"].Score)
	}
	// The boost leaks to the trusted issuer's neighbour too.
	if scores["did:t-peer"].Score <= scores["did:p-peer"].Score {
		t.Fatalf("trusted neighbour %d should outscore plain neighbour %d",
			scores["did:t-peer"].Score, scores["did:p-peer"].Score)
	}
}

func TestScoresAreDeterministic(t *testing.T) {
	reg := registryWith(t,
		[]string{"did:a", "did:b", "did:c", "did:d"},
		map[string][]string{
			"did:a": {"did:b", "did:c"},
			"did:b": {"did:c", "did:d"},
			"did:c": {"did:d"},
		},
		[]string{"did:a"},
	)
	scorer := NewScorer(reg, slog.Default())

	first, err := scorer.Scores(context.Background())
	if err != nil {
		t.Fatalf("scores: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := scorer.Scores(context.Background())
		if err != nil {
			t.Fatalf("scores run %d: %v", i, err)
		}
		for id, score := range first {
			if again[id] != score {
				t.Fatalf("run %d diverged for %s: %+v vs %+v", i, id, again[id], score)
			}
		}
	}
}

func TestRankingIsOrderedAndStable(t *testing.T) {
	reg := registryWith(t,
		[]string{"did:a", "did:b", "did:c"},
		map[string][]string{"did:a": {"did:b", "did:c"}},
		nil,
	)
	scorer := NewScorer(reg, slog.Default())
	ranking, err := scorer.Ranking(context.Background())
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	if len(ranking) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(ranking))
	}
	for i, entry := range ranking {
		if entry.Position != i+1 {
			t.Fatalf("position %d on entry %d", entry.Position, i)
		}
		if i > 0 && ranking[i-1].Score < entry.Score {
			t.Fatalf("ranking not descending at %d", i)
		}
	}
	// b and c are symmetric; the tie must break by identity.
	if ranking[1].Score == ranking[2].Score && ranking[1].IdentityID > ranking[2].IdentityID {
		t.Fatal("tie not broken by identity")
	}
}

func TestGraphStats(t *testing.T) {
	reg := registryWith(t,
		[]string{"did:a", "did:b", "did:c", "did:loner"},
		map[string][]string{"did:a": {"did:b", "did:c"}},
		[]string{"did:a"},
	)
	scorer := NewScorer(reg, slog.Default())
	stats, err := scorer.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalNodes != 4 || stats.TotalEdges != 2 {
		t.Fatalf("node/edge counts: %+v", stats)
	}
	if stats.TrustedNodes != 1 || stats.IsolatedNodes != 1 {
		t.Fatalf("trusted/isolated counts: %+v", stats)
	}
	if stats.AverageOutDegree != 1.0 {
		t.Fatalf("average degree: %f", stats.AverageOutDegree)
	}
	if stats.NetworkDensity <= 0 || stats.NetworkDensity > 1 {
		t.Fatalf("density out of range: %f", stats.NetworkDensity)
	}
}

func TestInboundAcceptanceNeverLowersRank(t *testing.T) {
	reg := registryWith(t,
		[]string{"did:a", "did:b", "did:c", "did:d"},
		map[string][]string{
			"did:a": {"did:b"},
			"did:c": {"did:d"},
		},
		nil,
	)
	scorer := NewScorer(reg, slog.Default())
	before, err := scorer.Scores(context.Background())
	if err != nil {
		t.Fatalf("scores: %v", err)
	}

	// One more party accepts a's credential; a's standing must not drop.
	if err := reg.RecordCredentialAcceptance(context.Background(), "did:a", "did:c"); err != nil {
		t.Fatalf("record acceptance: %v", err)
	}
	after, err := scorer.Scores(context.Background())
	if err != nil {
		t.Fatalf("scores after edge: %v", err)
	}

	if after["did:a"].Rank < before["did:a"].Rank {
		t.Fatalf("new inbound acceptance lowered rank: %f -> %f",
			before["did:a"].Rank, after["did:a"].Rank)
	}
	if after["did:a"].Score < before["did:a"].Score {
		t.Fatalf("new inbound acceptance lowered score: %d -> %d",
			before["did:a"].Score, after["did:a"].Score)
	}
	if after["did:a"].AcceptedBy != before["did:a"].AcceptedBy+1 {
		t.Fatalf("accepted-by count: %d", after["did:a"].AcceptedBy)
	}
}

// ringGraph builds an n-node cycle directly, skipping the registry so
// large graphs stay cheap to assemble.
func ringGraph(n int) *Graph {
	g := &Graph{
		Nodes:      make([]string, n),
		Edges:      make(map[string]map[string]struct{}, n),
		Trusted:    make(map[string]bool, n),
		AcceptedBy: make(map[string]int, n),
		Accepted:   make(map[string]int, n),
	}
	for i := 0; i < n; i++ {
		g.Nodes[i] = fmt.Sprintf("did:node-%05d", i)
	}
	for i := 0; i < n; i++ {
		g.Edges[g.Nodes[i]] = make(map[string]struct{})
	}
	for i := 0; i < n; i++ {
		next := g.Nodes[(i+1)%n]
		g.Edges[g.Nodes[i]][next] = struct{}{}
		g.Edges[next][g.Nodes[i]] = struct{}{}
		g.AcceptedBy[g.Nodes[i]]++
		g.Accepted[next]++
	}
	return g
}

func TestLargeGraphConvergesWithinIterationBudget(t *testing.T) {
	g := ringGraph(2500)
	for i, id := range g.Nodes {
		if i%100 == 0 {
			g.Trusted[id] = true
		}
	}

	ranks, iterations := rank(g)
	if iterations >= maxIterations {
		t.Fatalf("walk used the whole iteration budget: %d", iterations)
	}
	if len(ranks) != len(g.Nodes) {
		t.Fatalf("rank count: %d of %d", len(ranks), len(g.Nodes))
	}
	for id, r := range ranks {
		if math.IsNaN(r) || r <= 0 {
			t.Fatalf("degenerate rank for %s: %f", id, r)
		}
	}
}

func TestEmptyGraph(t *testing.T) {
	scorer := NewScorer(ledger.NewMemoryRegistry(), slog.Default())
	scores, err := scorer.Scores(context.Background())
	if err != nil {
		t.Fatalf("scores: %v", err)
	}
	if len(scores) != 0 {
		t.Fatalf("empty registry produced %d scores", len(scores))
	}
	stats, err := scorer.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalNodes != 0 || stats.NetworkDensity != 0 {
		t.Fatalf("empty stats wrong: %+v", stats)
	}
}

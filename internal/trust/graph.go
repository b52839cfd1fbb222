// Package trust derives reputational scores from the ledger's
// acceptance relations. An acceptance vouches both ways, so the graph
// is undirected: standing flows from accepter to issuer and back.
package trust

import (
	"context"
	"log/slog"
	"sort"

	"trustmesh/go-backend/internal/ledger"
)

// Graph is a snapshot of the acceptance network. Edges are stored as a
// symmetric adjacency set; acceptedBy and accepted keep the directed
// counts for reporting.
type Graph struct {
	Nodes      []string
	Edges      map[string]map[string]struct{}
	Trusted    map[string]bool
	AcceptedBy map[string]int
	Accepted   map[string]int
}

// BuildGraph assembles the acceptance graph from the registry. A
// failing per-identity read drops that identity's edges, not the whole
// graph.
func BuildGraph(ctx context.Context, registry ledger.Registry, logger *slog.Logger) (*Graph, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ids, err := registry.GetAllDIDs(ctx)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		Nodes:      append([]string(nil), ids...),
		Edges:      make(map[string]map[string]struct{}, len(ids)),
		Trusted:    make(map[string]bool, len(ids)),
		AcceptedBy: make(map[string]int, len(ids)),
		Accepted:   make(map[string]int, len(ids)),
	}
	sort.Strings(g.Nodes)
	known := make(map[string]struct{}, len(ids))
	for _, id := range g.Nodes {
		known[id] = struct{}{}
		g.Edges[id] = make(map[string]struct{})
	}

	for _, issuer := range g.Nodes {
		trusted, err := registry.IsTrustedIssuer(ctx, issuer)
		if err != nil {
			logger.Warn("trusted-issuer lookup failed", "id", issuer, "reason", err.Error())
		} else {
			g.Trusted[issuer] = trusted
		}

		accepters, err := registry.GetAcceptedByList(ctx, issuer)
		if err != nil {
			logger.Warn("accepted-by lookup failed", "id", issuer, "reason", err.Error())
			continue
		}
		for _, accepter := range accepters {
			if _, ok := known[accepter]; !ok {
				continue
			}
			if accepter == issuer {
				continue
			}
			if _, dup := g.Edges[issuer][accepter]; !dup {
				g.AcceptedBy[issuer]++
				g.Accepted[accepter]++
			}
			g.Edges[issuer][accepter] = struct{}{}
			g.Edges[accepter][issuer] = struct{}{}
		}
	}
	return g, nil
}

func (g *Graph) EdgeCount() int {
	total := 0
	for _, peers := range g.Edges {
		total += len(peers)
	}
	return total / 2
}

func (g *Graph) degree(id string) int {
	return len(g.Edges[id])
}

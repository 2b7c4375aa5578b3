package sampling

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// PlannedRelation is one relation in sampling order.
type PlannedRelation struct {
	Relation *models.Relation
	Settings Settings
	// Parents are the depends_on edges enforced when sampling: their remote
	// relation is placed earlier and is not the relation itself.
	Parents []models.Relationship
	// Caveats describe edges that could not be enforced.
	Caveats []string
}

// ParentRelations returns the distinct parent relations in edge order.
func (p *PlannedRelation) ParentRelations() []*models.Relation {
	seen := make(map[*models.Relation]struct{}, len(p.Parents))
	var out []*models.Relation
	for _, edge := range p.Parents {
		if _, ok := seen[edge.Remote]; ok {
			continue
		}
		seen[edge.Remote] = struct{}{}
		out = append(out, edge.Remote)
	}
	return out
}

// Plan is a sampling order in which every enforced parent precedes its
// children.
type Plan struct {
	Order []*PlannedRelation
}

// Lookup finds the planned entry for rel.
func (p *Plan) Lookup(rel *models.Relation) (*PlannedRelation, bool) {
	for _, planned := range p.Order {
		if planned.Relation == rel {
			return planned, true
		}
	}
	return nil, false
}

// BuildPlan orders relations by bounded relaxation. Each pass walks the
// unplaced relations in declaration order and places every one whose hard
// dependencies are all placed; placing a relation pulls its ready
// bidirectional peers forward next to it. When a pass places nothing the
// remaining relations are blocked by a cycle, and the first relation on a
// cycle in declaration order is forced: its unplaced dependencies become
// caveats. Every pass
// places at least one relation, so there are at most len(relations) passes.
func BuildPlan(relations []*models.Relation, settings func(*models.Relation) Settings) *Plan {
	placed := make(map[*models.Relation]bool, len(relations))
	plan := &Plan{Order: make([]*PlannedRelation, 0, len(relations))}
	peers := bidirectionalPeers(relations)

	ready := func(rel *models.Relation) bool {
		for _, edge := range rel.DependsOn() {
			if !edge.IsSelfReference() && !placed[edge.Remote] {
				return false
			}
		}
		return true
	}

	var place func(rel *models.Relation)
	place = func(rel *models.Relation) {
		planned := &PlannedRelation{Relation: rel, Settings: settings(rel)}
		for _, edge := range rel.DependsOn() {
			switch {
			case edge.IsSelfReference():
				planned.Caveats = append(planned.Caveats,
					fmt.Sprintf("self reference %s -> %s not enforced", edge.LocalAttribute, edge.RemoteAttribute))
			case placed[edge.Remote]:
				planned.Parents = append(planned.Parents, edge)
			default:
				planned.Caveats = append(planned.Caveats,
					fmt.Sprintf("dependency on %s.%s not enforced (cycle)", edge.Remote.DotNotation(), edge.RemoteAttribute))
			}
		}
		placed[rel] = true
		plan.Order = append(plan.Order, planned)

		for _, peer := range peers[rel] {
			if !placed[peer] && ready(peer) {
				place(peer)
			}
		}
	}

	for len(plan.Order) < len(relations) {
		progress := false
		for _, rel := range relations {
			if placed[rel] || !ready(rel) {
				continue
			}
			place(rel)
			progress = true
		}
		if progress {
			continue
		}
		place(forcedRelation(relations, placed))
	}
	return plan
}

// forcedRelation picks the first unplaced relation on a cycle, falling back
// to the first unplaced relation when a dependency lies outside relations.
func forcedRelation(relations []*models.Relation, placed map[*models.Relation]bool) *models.Relation {
	var first *models.Relation
	for _, rel := range relations {
		if placed[rel] {
			continue
		}
		if onCycle(rel, placed) {
			return rel
		}
		if first == nil {
			first = rel
		}
	}
	return first
}

// onCycle reports whether rel can reach itself through hard edges between
// unplaced relations. When no relation is ready every unplaced relation has
// an unplaced dependency, so at least one of them is on a cycle.
func onCycle(rel *models.Relation, placed map[*models.Relation]bool) bool {
	visited := make(map[*models.Relation]bool)
	stack := []*models.Relation{rel}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, edge := range current.DependsOn() {
			next := edge.Remote
			if edge.IsSelfReference() || placed[next] {
				continue
			}
			if next == rel {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// bidirectionalPeers indexes bidirectional edges in both directions,
// keeping declaration order.
func bidirectionalPeers(relations []*models.Relation) map[*models.Relation][]*models.Relation {
	peers := make(map[*models.Relation][]*models.Relation)
	add := func(from, to *models.Relation) {
		for _, existing := range peers[from] {
			if existing == to {
				return
			}
		}
		peers[from] = append(peers[from], to)
	}
	for _, rel := range relations {
		for _, edge := range rel.Relationships() {
			if edge.Kind != models.RelationshipBidirectional || edge.IsSelfReference() {
				continue
			}
			add(edge.Local, edge.Remote)
			add(edge.Remote, edge.Local)
		}
	}
	return peers
}

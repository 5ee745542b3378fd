package engine

import (
	"fmt"
	"log"
	"slices"
	"sort"

	"github.com/lazypower/curator/internal/config"
	"github.com/lazypower/curator/internal/store"
)

// Merger finds near-duplicate patterns and folds each group into one survivor.
type Merger struct {
	store Store
	cfg   config.MergerConfig
}

// NewMerger validates cfg and returns a Merger over s.
func NewMerger(s Store, cfg config.MergerConfig) (*Merger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Merger{store: s, cfg: cfg}, nil
}

// Config returns the merger's configuration.
func (m *Merger) Config() config.MergerConfig {
	return m.cfg
}

// Group is a set of near-duplicate pattern ids, ascending. Similarity is the
// mean similarity of the pairs that linked the group together.
type Group struct {
	IDs        []int64 `json:"ids"`
	Similarity float64 `json:"similarity"`
}

// FindSimilarGroups compares every unordered pair of patterns and returns
// the connected components of pairs at or above the threshold. Groups are
// disjoint, have at least two members and come out ordered by smallest id,
// whatever the input order.
func (m *Merger) FindSimilarGroups(patterns []store.Pattern) []Group {
	if len(patterns) < 2 {
		return nil
	}
	arena := slices.Clone(patterns)
	sort.Slice(arena, func(i, j int) bool { return arena[i].ID < arena[j].ID })

	parent := make([]int, len(arena))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	type edge struct {
		a   int
		sim float64
	}
	var edges []edge
	for i := 0; i < len(arena); i++ {
		for j := i + 1; j < len(arena); j++ {
			sim := Similarity(m.cfg, arena[i], arena[j])
			if sim < m.cfg.SimilarityThreshold {
				continue
			}
			edges = append(edges, edge{a: i, sim: sim})
			ri, rj := find(i), find(j)
			if ri != rj {
				// Lower index becomes the root so roots are each group's smallest id.
				if rj < ri {
					ri, rj = rj, ri
				}
				parent[rj] = ri
			}
		}
	}
	if len(edges) == 0 {
		return nil
	}

	members := make(map[int][]int64)
	simSum := make(map[int]float64)
	simCount := make(map[int]int)
	for i := range arena {
		r := find(i)
		members[r] = append(members[r], arena[i].ID)
	}
	for _, e := range edges {
		r := find(e.a)
		simSum[r] += e.sim
		simCount[r]++
	}

	roots := make([]int, 0, len(members))
	for r, ids := range members {
		if len(ids) > 1 {
			roots = append(roots, r)
		}
	}
	sort.Ints(roots)

	groups := make([]Group, 0, len(roots))
	for _, r := range roots {
		groups = append(groups, Group{
			IDs:        members[r],
			Similarity: simSum[r] / float64(simCount[r]),
		})
	}
	return groups
}

// MergeGroup folds the patterns with the given ids into one survivor and
// returns the audit record. Either the whole merge is applied or nothing is.
func (m *Merger) MergeGroup(ids []int64) (*store.MergeRecord, error) {
	ids = uniqueIDs(ids)
	if len(ids) < 2 {
		return nil, ErrInvalidGroup
	}

	patterns := make([]store.Pattern, 0, len(ids))
	for _, id := range ids {
		p, err := m.store.GetPattern(id)
		if err != nil {
			return nil, fmt.Errorf("merge group: %w", err)
		}
		if p == nil {
			return nil, fmt.Errorf("merge group: pattern %d: %w", id, ErrNotFound)
		}
		patterns = append(patterns, *p)
	}

	return m.merge(patterns, meanPairSimilarity(m.cfg, patterns))
}

func (m *Merger) merge(patterns []store.Pattern, similarity float64) (*store.MergeRecord, error) {
	plan := planMerge(patterns)
	plan.Similarity = similarity

	rec, err := m.store.ApplyMerge(plan)
	if err != nil {
		return nil, fmt.Errorf("merge into %d: %w", plan.SurvivorID, err)
	}
	log.Printf("merge: folded %v into %d (similarity %.2f, %d uses)",
		rec.AbsorbedIDs, rec.SurvivorID, similarity, rec.TotalUsesAfter)
	return rec, nil
}

// planMerge picks the survivor (most used, lowest id on ties). The store folds
// the counters when it applies the plan.
func planMerge(patterns []store.Pattern) store.MergePlan {
	survivor := patterns[0]
	for _, p := range patterns[1:] {
		if p.UseCount > survivor.UseCount || (p.UseCount == survivor.UseCount && p.ID < survivor.ID) {
			survivor = p
		}
	}

	var absorbed []int64
	for _, p := range patterns {
		if p.ID != survivor.ID {
			absorbed = append(absorbed, p.ID)
		}
	}
	slices.Sort(absorbed)
	return store.MergePlan{SurvivorID: survivor.ID, AbsorbedIDs: absorbed}
}

// MergeReport summarises a merge pass.
type MergeReport struct {
	Action         string              `json:"action"` // "none", "dry_run" or "merged"
	GroupsFound    int                 `json:"groups_found"`
	GroupsMerged   int                 `json:"groups_merged"`
	PatternsBefore int                 `json:"patterns_before"`
	PatternsAfter  int                 `json:"patterns_after"`
	SpaceSaved     int                 `json:"space_saved"`
	Groups         []Group             `json:"groups"`
	Merged         []store.MergeRecord `json:"merged,omitempty"`
	Failures       []ItemError         `json:"failures,omitempty"`
}

// MergeAllSimilar finds every similar group and, when apply is set, merges
// each one. A dry run changes nothing. A group that fails to merge is
// recorded in Failures and the rest of the pass continues.
func (m *Merger) MergeAllSimilar(apply bool) (*MergeReport, error) {
	patterns, err := m.store.ListPatterns()
	if err != nil {
		return nil, fmt.Errorf("merge all: %w", err)
	}

	groups := m.FindSimilarGroups(patterns)
	report := &MergeReport{
		Action:         "none",
		GroupsFound:    len(groups),
		PatternsBefore: len(patterns),
		PatternsAfter:  len(patterns),
		Groups:         groups,
	}
	log.Printf("merge: found %d similar groups among %d patterns", len(groups), len(patterns))
	if len(groups) == 0 {
		return report, nil
	}

	if !apply {
		report.Action = "dry_run"
		for _, g := range groups {
			report.SpaceSaved += len(g.IDs) - 1
		}
		report.PatternsAfter = report.PatternsBefore - report.SpaceSaved
		return report, nil
	}

	byID := make(map[int64]store.Pattern, len(patterns))
	for _, p := range patterns {
		byID[p.ID] = p
	}

	report.Action = "merged"
	for _, g := range groups {
		members := make([]store.Pattern, 0, len(g.IDs))
		for _, id := range g.IDs {
			members = append(members, byID[id])
		}
		rec, err := m.merge(members, g.Similarity)
		if err != nil {
			log.Printf("merge: group %v: %v", g.IDs, err)
			report.Failures = append(report.Failures, itemError(g.IDs[0], err))
			continue
		}
		report.GroupsMerged++
		report.Merged = append(report.Merged, *rec)
	}

	after, err := m.store.CountPatterns()
	if err != nil {
		return report, fmt.Errorf("merge all: %w", err)
	}
	report.PatternsAfter = after
	report.SpaceSaved = report.PatternsBefore - after
	log.Printf("merge: merged %d groups, saved %d patterns", report.GroupsMerged, report.SpaceSaved)
	return report, nil
}

// History returns up to limit merge records, most recent first.
func (m *Merger) History(limit int) ([]store.MergeRecord, error) {
	return m.store.MergeHistory(limit)
}

// Stats aggregates the merge audit.
func (m *Merger) Stats() (store.MergeStats, error) {
	return m.store.MergeStats()
}

func meanPairSimilarity(cfg config.MergerConfig, patterns []store.Pattern) float64 {
	total, pairs := 0.0, 0
	for i := 0; i < len(patterns); i++ {
		for j := i + 1; j < len(patterns); j++ {
			total += Similarity(cfg, patterns[i], patterns[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}

func uniqueIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

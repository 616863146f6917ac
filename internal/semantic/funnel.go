package semantic

import "sort"

// AssembleFunnel orders stage-flag columns by canonical rank, breaking ties
// by descending prevalence, and picks the conversion base stage.
func AssembleFunnel(cols []Column) Funnel {
	stages := []FunnelStage{}
	for _, c := range cols {
		if c.Role != RoleStageFlag {
			continue
		}
		stages = append(stages, FunnelStage{
			Column:     c.Name,
			Label:      c.Label,
			Rank:       c.StageRank,
			Prevalence: round3(c.Stats.TruthyRate),
		})
	}
	sort.SliceStable(stages, func(i, j int) bool {
		if stages[i].Rank != stages[j].Rank {
			return stages[i].Rank < stages[j].Rank
		}
		return stages[i].Prevalence > stages[j].Prevalence
	})
	for i := range stages {
		stages[i].Order = i + 1
	}

	f := Funnel{Stages: stages}
	if len(stages) < 2 {
		return f
	}
	f.Detected = true
	f.Confidence = 0.6
	if len(stages) >= 4 {
		f.Confidence = 0.9
	}
	best := -1.0
	for _, s := range stages[1:] {
		if s.Prevalence > best {
			f.BaseStage, best = s.Column, s.Prevalence
		}
	}
	return f
}

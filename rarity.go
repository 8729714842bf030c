package traitmerge

import (
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// TraitCount is how many artifacts use one trait file.
type TraitCount struct {
	File      string  `json:"file"`
	TraitType string  `json:"trait_type,omitempty"`
	Value     string  `json:"value,omitempty"`
	Count     int     `json:"count"`
	Frequency float64 `json:"frequency"`
}

type CategoryRarity struct {
	Category string       `json:"category"`
	Traits   []TraitCount `json:"traits"`
	// Shannon entropy of the trait distribution, in nats.
	Entropy float64 `json:"entropy"`
}

type ArtifactRarity struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

type RarityReport struct {
	Artifacts  int              `json:"artifacts"`
	Categories []CategoryRarity `json:"categories"`
	// Sorted by descending score, rarest first.
	Scores []ArtifactRarity `json:"scores"`
}

// Rarity tallies trait usage over artifacts [0, end) of seq. The score of
// an artifact is the sum of 1/frequency of its traits.
func Rarity(seq *Generator, end int) RarityReport {
	end = min(max(end, 0), seq.Len())
	cats := seq.Categories()
	counts := make([]map[string]int, len(cats))
	for k := range cats {
		counts[k] = make(map[string]int, len(cats[k].Files))
	}
	for i, c := range seq.All() {
		if i >= end {
			break
		}
		for k, f := range c {
			counts[k][f.Path]++
		}
	}

	rep := RarityReport{Artifacts: end, Categories: make([]CategoryRarity, len(cats))}
	freq := make([]map[string]float64, len(cats))
	for k, cat := range cats {
		cr := CategoryRarity{Category: cat.Name}
		freq[k] = make(map[string]float64, len(cat.Files))
		p := make([]float64, 0, len(cat.Files))
		for _, f := range cat.Files {
			n := counts[k][f.Path]
			tc := TraitCount{File: f.Name, Count: n}
			if f.HasAttr {
				tc.TraitType, tc.Value = f.Attr.TraitType, f.Attr.Value
			}
			if end > 0 {
				tc.Frequency = float64(n) / float64(end)
			}
			freq[k][f.Path] = tc.Frequency
			p = append(p, tc.Frequency)
			cr.Traits = append(cr.Traits, tc)
		}
		if end > 0 {
			cr.Entropy = stat.Entropy(p)
		}
		rep.Categories[k] = cr
	}

	terms := make([]float64, len(cats))
	for i, c := range seq.All() {
		if i >= end {
			break
		}
		for k, f := range c {
			terms[k] = 1 / freq[k][f.Path]
		}
		rep.Scores = append(rep.Scores, ArtifactRarity{Index: i, Score: floats.Sum(terms)})
	}
	slices.SortStableFunc(rep.Scores, func(a, b ArtifactRarity) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return rep
}

package traitmerge

import (
	"iter"
	"math"
)

// Combination holds one trait file per category, in category order.
// The first element is the bottom layer.
type Combination []TraitFile

// Paths returns the source file paths of c.
func (c Combination) Paths() []string {
	out := make([]string, len(c))
	for i, f := range c {
		out[i] = f.Path
	}
	return out
}

// Generator enumerates the cartesian product of category files.
// The last category varies fastest, so the first category is the outermost
// loop. The order only depends on the category list, which makes an index
// a stable resume position.
type Generator struct {
	cats  []TraitCategory
	sizes []int
	total int
	limit int
}

func NewGenerator(cats []TraitCategory) *Generator {
	g := &Generator{
		cats:  cats,
		sizes: make([]int, len(cats)),
	}
	if len(cats) == 0 {
		return g
	}
	total := 1
	for i, c := range cats {
		n := len(c.Files)
		g.sizes[i] = n
		if n == 0 {
			total = 0
			break
		}
		if total > math.MaxInt/n {
			total = math.MaxInt
			continue
		}
		total *= n
	}
	g.total = total
	g.limit = total
	return g
}

// Limit returns a view of g truncated to at most n combinations.
// Non-positive n leaves the length unchanged.
func (g *Generator) Limit(n int) *Generator {
	out := *g
	if n > 0 && n < out.limit {
		out.limit = n
	}
	return &out
}

// Len reports the number of combinations, after truncation.
func (g *Generator) Len() int {
	return g.limit
}

// Total reports the untruncated product size.
func (g *Generator) Total() int {
	return g.total
}

func (g *Generator) Categories() []TraitCategory {
	return g.cats
}

// At decodes index i as a mixed-radix number over the category sizes.
func (g *Generator) At(i int) Combination {
	if i < 0 || i >= g.limit {
		return nil
	}
	c := make(Combination, len(g.cats))
	for k := len(g.cats) - 1; k >= 0; k-- {
		n := g.sizes[k]
		c[k] = g.cats[k].Files[i%n]
		i /= n
	}
	return c
}

// All yields every combination with its index.
func (g *Generator) All() iter.Seq2[int, Combination] {
	return g.From(0)
}

// From yields combinations starting at index start. The odometer is seeded
// once and then incremented, so iteration never rebuilds the prefix.
func (g *Generator) From(start int) iter.Seq2[int, Combination] {
	return func(yield func(int, Combination) bool) {
		if start < 0 || start >= g.limit {
			return
		}
		odo := make([]int, len(g.cats))
		rest := start
		for k := len(g.cats) - 1; k >= 0; k-- {
			odo[k] = rest % g.sizes[k]
			rest /= g.sizes[k]
		}
		for i := start; i < g.limit; i++ {
			c := make(Combination, len(g.cats))
			for k, pos := range odo {
				c[k] = g.cats[k].Files[pos]
			}
			if !yield(i, c) {
				return
			}
			for k := len(odo) - 1; k >= 0; k-- {
				odo[k]++
				if odo[k] < g.sizes[k] {
					break
				}
				odo[k] = 0
			}
		}
	}
}

package suppression

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat/combin"
)

// Combination is a subset of the sensitive columns, as indices in the
// configured column order.
type Combination []int

// Names resolves the combination to column names.
func (c Combination) Names(s *Schema) []string {
	names := make([]string, len(c))
	for i, idx := range c {
		names[i] = s.Sensitive[idx].Name
	}
	return names
}

// Label concatenates the column names, as used in MinimumValue<Label>.
func (c Combination) Label(s *Schema) string {
	return strings.Join(c.Names(s), "")
}

// EnumerateCombinations returns every non-empty subset of n sensitive
// columns, longest first. Subsets of equal size keep the lexicographic order
// of the configured columns.
func EnumerateCombinations(n int) []Combination {
	var out []Combination
	for k := n; k >= 1; k-- {
		subsets := combin.Combinations(n, k)
		sort.Slice(subsets, func(i, j int) bool {
			return lessIndices(subsets[i], subsets[j])
		})
		for _, s := range subsets {
			out = append(out, Combination(s))
		}
	}
	return out
}

// PartitionCombinations returns the combinations used to partition cells for
// the secondary rules: every combination narrower than the full set. With a
// single sensitive column this is the empty combination, which partitions by
// grouping and organization alone.
func PartitionCombinations(n int) []Combination {
	var out []Combination
	for _, c := range EnumerateCombinations(n) {
		if len(c) < n {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		out = []Combination{{}}
	}
	return out
}

// OrganizationScopes returns the organizational scopes to aggregate over, as
// key positions. One level yields that level; two levels yield the pair and
// the parent alone.
func OrganizationScopes(levels int) [][]int {
	switch levels {
	case 0:
		return nil
	case 1:
		return [][]int{{0}}
	default:
		return [][]int{{0, 1}, {0}}
	}
}

// GroupingKind names the family a grouping belongs to.
type GroupingKind string

const (
	KindOrganization      GroupingKind = "organization"
	KindOrganizationTotal GroupingKind = "organization_total"
	KindSensitive         GroupingKind = "sensitive"
	KindDetail            GroupingKind = "detail"
)

// Grouping is one aggregation granularity.
type Grouping struct {
	ID           int          `json:"id"`
	Kind         GroupingKind `json:"kind"`
	Organization []int        `json:"organization"`
	Combination  Combination  `json:"combination"`

	// Scope lists the key positions of the enclosing organizational scope
	// used for MinimumValue. Empty means the whole grouping.
	Scope []int `json:"scope"`
}

// Positions lists every key position that is part of the granularity.
func (g Grouping) Positions(s *Schema) []int {
	return append(append([]int(nil), g.Organization...), s.sensitivePositions(g.Combination)...)
}

// Contains reports whether every member of c is a column of the grouping.
func (g Grouping) Contains(c Combination) bool {
	for _, idx := range c {
		found := false
		for _, own := range g.Combination {
			if own == idx {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// EnumerateGroupings assigns grouping ids: every organizational scope crossed
// with every combination, then the organization totals, then the
// sensitive-only combinations. Grouping 0 is always the finest granularity.
func EnumerateGroupings(s *Schema) []Grouping {
	combinations := EnumerateCombinations(len(s.Sensitive))
	var out []Grouping
	add := func(kind GroupingKind, org []int, c Combination, scope []int) {
		out = append(out, Grouping{
			ID:           len(out),
			Kind:         kind,
			Organization: org,
			Combination:  c,
			Scope:        scope,
		})
	}

	scopes := OrganizationScopes(len(s.Organization))
	for _, scope := range scopes {
		for _, c := range combinations {
			add(KindOrganization, scope, c, scope)
		}
	}
	if len(scopes) > 0 {
		add(KindOrganizationTotal, []int{0}, Combination{}, nil)
	}
	for _, c := range combinations {
		add(KindSensitive, nil, c, nil)
	}
	return out
}

func lessIndices(a, b []int) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

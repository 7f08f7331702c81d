package suppression

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumerateCombinations(t *testing.T) {
	got := EnumerateCombinations(3)
	want := []Combination{
		{0, 1, 2},
		{0, 1}, {0, 2}, {1, 2},
		{0}, {1}, {2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EnumerateCombinations(3) mismatch (-want +got):\n%s", diff)
	}

	assert.Len(t, EnumerateCombinations(4), 15)
	assert.Equal(t, []Combination{{0}}, EnumerateCombinations(1))
}

func TestPartitionCombinations(t *testing.T) {
	single := PartitionCombinations(1)
	require.Len(t, single, 1)
	assert.Empty(t, single[0])

	if diff := cmp.Diff([]Combination{{0}, {1}}, PartitionCombinations(2)); diff != "" {
		t.Errorf("PartitionCombinations(2) mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, PartitionCombinations(3), 6)
}

func TestOrganizationScopes(t *testing.T) {
	assert.Nil(t, OrganizationScopes(0))
	assert.Equal(t, [][]int{{0}}, OrganizationScopes(1))
	assert.Equal(t, [][]int{{0, 1}, {0}}, OrganizationScopes(2))
}

func TestEnumerateGroupings(t *testing.T) {
	t.Run("no organization", func(t *testing.T) {
		s := &Schema{Sensitive: []Column{{Name: "A"}, {Name: "B"}}}
		groupings := EnumerateGroupings(s)

		require.Len(t, groupings, 3)
		for i, g := range groupings {
			assert.Equal(t, i, g.ID)
			assert.Equal(t, KindSensitive, g.Kind)
		}
		assert.Equal(t, []int{0, 1}, groupings[0].Positions(s))
		assert.Equal(t, []int{1}, groupings[2].Positions(s))
	})

	t.Run("two organization levels", func(t *testing.T) {
		s := &Schema{
			Organization: []Column{{Name: "District"}, {Name: "School"}},
			Sensitive:    []Column{{Name: "Gender"}, {Name: "Grade"}},
		}
		groupings := EnumerateGroupings(s)

		require.Len(t, groupings, 10)
		assert.Equal(t, []int{0, 1, 2, 3}, groupings[0].Positions(s))
		assert.Equal(t, []int{0, 1}, groupings[0].Scope)
		assert.Equal(t, []int{0, 2}, groupings[4].Positions(s))
		assert.Equal(t, []int{0}, groupings[4].Scope)

		total := groupings[6]
		assert.Equal(t, KindOrganizationTotal, total.Kind)
		assert.Equal(t, []int{0}, total.Positions(s))
		assert.Empty(t, total.Scope)

		assert.Equal(t, KindSensitive, groupings[7].Kind)
		assert.Equal(t, []int{2, 3}, groupings[7].Positions(s))
	})
}

func TestGroupingContains(t *testing.T) {
	g := Grouping{Combination: Combination{0, 2}}

	assert.True(t, g.Contains(Combination{2}))
	assert.True(t, g.Contains(Combination{}))
	assert.False(t, g.Contains(Combination{1}))
}

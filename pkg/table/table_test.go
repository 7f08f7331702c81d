package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStrings(t *testing.T) {
	tbl := FromStrings([]string{"School", "Count"}, [][]string{{"A", "1"}, {"B", "2"}})

	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, 1, tbl.ColumnIndex("Count"))
	assert.Equal(t, -1, tbl.ColumnIndex("Missing"))
	assert.True(t, tbl.Rows[0][0].Valid)
	assert.Equal(t, "B", tbl.Rows[1][0].Str)
}

func TestAddColumn(t *testing.T) {
	tbl := FromStrings([]string{"School"}, [][]string{{"A"}, {"B"}})

	require.NoError(t, tbl.AddColumn("Flag", []Value{Int(0), Null()}))
	assert.Equal(t, []string{"School", "Flag"}, tbl.Columns)
	assert.Equal(t, "0", tbl.Rows[0][1].String())
	assert.Equal(t, "", tbl.Rows[1][1].String())

	assert.Error(t, tbl.AddColumn("Flag", []Value{Null(), Null()}))
	assert.Error(t, tbl.AddColumn("Other", []Value{Null()}))
}

func TestAppendRow(t *testing.T) {
	tbl := New("A", "B")

	require.NoError(t, tbl.AppendRow(S("x"), Null()))
	assert.Error(t, tbl.AppendRow(S("x")))
	assert.Equal(t, 1, tbl.Len())
}

func TestSelectAndClone(t *testing.T) {
	tbl := FromStrings([]string{"A", "B", "C"}, [][]string{{"1", "2", "3"}})

	sel, err := tbl.Select("C", "A")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"3", "1"}}, sel.Strings())

	_, err = tbl.Select("Z")
	assert.Error(t, err)

	clone := tbl.Clone()
	clone.Rows[0][0] = S("changed")
	assert.Equal(t, "1", tbl.Rows[0][0].Str)
}

func TestColumn(t *testing.T) {
	tbl := FromStrings([]string{"A"}, [][]string{{"x"}, {"y"}})

	values, err := tbl.Column("A")
	require.NoError(t, err)
	assert.Equal(t, []Value{S("x"), S("y")}, values)

	_, err = tbl.Column("B")
	assert.Error(t, err)
}

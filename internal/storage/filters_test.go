package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListOptionsClause(t *testing.T) {
	assert := require.New(t)
	cols := map[string]string{"name": "d.name"}

	out, err := ListOptions{}.clause(cols, "d.guid")
	assert.NoError(err)
	assert.Equal(" order by d.guid ASC", out)

	out, err = ListOptions{SortField: "name", SortOrder: "desc", Take: 10, Skip: 5}.clause(cols, "d.guid")
	assert.NoError(err)
	assert.Equal(" order by d.name DESC limit 10 offset 5", out)

	_, err = ListOptions{SortField: "key"}.clause(cols, "d.guid")
	assert.Equal(ErrInvalidSortField, err)
}

func TestVisibleCondition(t *testing.T) {
	t.Run("Nil visibility", func(t *testing.T) {
		assert := require.New(t)
		var q query
		q.visible(nil, "n", "dt", "g")
		assert.Equal("", q.whereClause())
	})

	t.Run("No clauses", func(t *testing.T) {
		assert := require.New(t)
		var q query
		q.visible(&Visibility{}, "n", "dt", "g")
		assert.Equal(" where false", q.whereClause())
	})

	t.Run("Clauses", func(t *testing.T) {
		assert := require.New(t)
		var q query
		q.and("x = " + q.arg(1))
		q.visible(&Visibility{Clauses: []VisibilityClause{
			{NetworkIDs: []int64{1}, AllDeviceTypes: true},
			{AllNetworks: true, DeviceTypeIDs: []int64{2}, DeviceGUIDs: []string{"a"}},
			{AllNetworks: true, AllDeviceTypes: true},
		}}, "n", "dt", "g")
		assert.Equal(" where x = $1 and ((n = any($2)) or ((dt is null or dt = any($3)) and g = any($4)) or true)", q.whereClause())
		assert.Len(q.args, 4)
	})
}

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffSnapshotsChangedValue(t *testing.T) {
	changes := DiffSnapshots(
		map[string]interface{}{"a": 1, "b": 2},
		map[string]interface{}{"a": 1, "b": 3},
	)

	require.Len(t, changes, 1)
	assert.Equal(t, FieldChange{Old: 2, New: 3}, changes["b"])
}

func TestDiffSnapshotsNilOldRecordsAdditions(t *testing.T) {
	changes := DiffSnapshots(nil, map[string]interface{}{"a": 1, "b": "x"})

	require.Len(t, changes, 2)
	assert.Equal(t, FieldChange{Old: nil, New: 1}, changes["a"])
	assert.Equal(t, FieldChange{Old: nil, New: "x"}, changes["b"])
}

func TestDiffSnapshotsNilNewRecordsRemovals(t *testing.T) {
	changes := DiffSnapshots(map[string]interface{}{"a": 1}, nil)

	require.Len(t, changes, 1)
	assert.Equal(t, FieldChange{Old: 1, New: nil}, changes["a"])
}

func TestDiffSnapshotsEqualMapsYieldNil(t *testing.T) {
	changes := DiffSnapshots(
		map[string]interface{}{"a": 1, "nested": map[string]interface{}{"x": true}},
		map[string]interface{}{"a": 1, "nested": map[string]interface{}{"x": true}},
	)

	assert.Nil(t, changes)
}

func TestDiffSnapshotsNestedMapChange(t *testing.T) {
	oldVals := map[string]interface{}{"address": map[string]interface{}{"city": "Bandung"}}
	newVals := map[string]interface{}{"address": map[string]interface{}{"city": "Jakarta"}}

	changes := DiffSnapshots(oldVals, newVals)

	require.Len(t, changes, 1)
	assert.Equal(t, oldVals["address"], changes["address"].Old)
	assert.Equal(t, newVals["address"], changes["address"].New)
}

func TestDiffSnapshotsExplicitNilVersusMissing(t *testing.T) {
	// A key that appears with a nil value is still an addition relative to
	// a snapshot where the key is absent.
	changes := DiffSnapshots(map[string]interface{}{}, map[string]interface{}{"a": nil})

	require.Len(t, changes, 1)
	assert.Equal(t, FieldChange{Old: nil, New: nil}, changes["a"])
}

func TestDiffSnapshotsBothNil(t *testing.T) {
	assert.Nil(t, DiffSnapshots(nil, nil))
}
